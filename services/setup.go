package services

import (
	"bufio"
	"bytes"
	context2 "context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/requiem-ai/gemprompt/config"
	"github.com/requiem-ai/gemprompt/context"
	"github.com/requiem-ai/gemprompt/llm"
	"github.com/rs/zerolog/log"
	tb "gopkg.in/telebot.v3"
)

// SetupService asks for the credential (and optional telegram settings) and
// saves them to the .env file.
type SetupService struct {
	context.DefaultService

	cfg *config.Config
	in  io.Reader
	out io.Writer

	// verifyUser waits for a telegram user to send code; replaced in tests.
	verifyUser func(ctx context2.Context, secret, code string, timeout time.Duration) (int64, error)
	// listModels returns the model names the key can use.
	listModels func(ctx context2.Context, apiKey string) ([]string, error)
}

const SETUP_SVC = "setup_svc"

func NewSetupService(cfg *config.Config, in io.Reader, out io.Writer, opts ...llm.GeminiOption) *SetupService {
	svc := &SetupService{
		cfg: cfg,
		in:  in,
		out: out,
	}
	svc.verifyUser = svc.waitForTelegramVerification
	svc.listModels = func(ctx context2.Context, apiKey string) ([]string, error) {
		client, err := llm.NewGeminiClient(ctx, apiKey, "", opts...)
		if err != nil {
			return nil, err
		}
		return client.ListModels(ctx)
	}
	return svc
}

func (svc SetupService) Id() string {
	return SETUP_SVC
}

func (svc *SetupService) Start(ctx context2.Context) error {
	if svc.cfg == nil {
		return errors.New("setup service requires a config")
	}
	reader := bufio.NewReader(svc.in)

	fmt.Fprintln(svc.out, "gemprompt setup")
	fmt.Fprintln(svc.out, "Press Enter to keep the current value shown in brackets.")
	fmt.Fprintln(svc.out, "Get an API key at https://aistudio.google.com/apikey")
	fmt.Fprintln(svc.out, "")

	updates := map[string]string{}

	apiKey, err := svc.promptRequired(ctx, reader, "Gemini API key (GOOGLE_API_KEY)", svc.cfg.APIKey, true)
	if err != nil {
		return err
	}
	updates["GOOGLE_API_KEY"] = apiKey

	model, err := svc.promptModel(ctx, reader, apiKey)
	if err != nil {
		return err
	}
	updates["GEMINI_MODEL"] = model

	telegram, err := svc.confirm(ctx, reader, "Configure the Telegram bot? (y/N): ")
	if err != nil {
		return err
	}
	if telegram {
		if err := svc.runTelegramSetup(ctx, reader, updates); err != nil {
			return err
		}
	}

	if err := updateEnvFile(svc.cfg.EnvFile, updates); err != nil {
		return fmt.Errorf("saving %s: %w", svc.cfg.EnvFile, err)
	}

	fmt.Fprintf(svc.out, "Configuration saved to %s.\n", svc.cfg.EnvFile)
	return nil
}

func (svc *SetupService) runTelegramSetup(ctx context2.Context, reader *bufio.Reader, updates map[string]string) error {
	fmt.Fprintln(svc.out, "")
	fmt.Fprintln(svc.out, "BotFather tips:")
	fmt.Fprintln(svc.out, "- Create a bot with /newbot, then copy the token.")
	fmt.Fprintln(svc.out, "- No webhook needed; the bot uses long polling.")
	fmt.Fprintln(svc.out, "")

	secret, err := svc.promptRequired(ctx, reader, "Bot token (TELEGRAM_SECRET)", svc.cfg.TelegramSecret, true)
	if err != nil {
		return err
	}
	updates["TELEGRAM_SECRET"] = secret

	if svc.cfg.AllowedUserID != 0 {
		return nil
	}
	restrict, err := svc.confirm(ctx, reader, "Restrict the bot to your Telegram user? (y/N): ")
	if err != nil || !restrict {
		return err
	}

	code, err := generateVerificationCode()
	if err != nil {
		return err
	}

	fmt.Fprintln(svc.out, "")
	fmt.Fprintln(svc.out, "Send this code to the bot in Telegram to authorize your user:")
	fmt.Fprintln(svc.out, code)
	fmt.Fprintln(svc.out, "")

	userID, err := svc.verifyUser(ctx, secret, code, 5*time.Minute)
	if err != nil {
		return err
	}
	updates["USER_ID"] = strconv.FormatInt(userID, 10)

	fmt.Fprintf(svc.out, "Telegram user %d authorized.\n", userID)
	return nil
}

func generateVerificationCode() (string, error) {
	const codeDigits = 6
	const maxDigit = 10

	var sb strings.Builder
	sb.Grow(codeDigits)
	for i := 0; i < codeDigits; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(maxDigit))
		if err != nil {
			return "", err
		}
		sb.WriteString(strconv.Itoa(int(n.Int64())))
	}
	return sb.String(), nil
}

func (svc *SetupService) waitForTelegramVerification(ctx context2.Context, secret, code string, timeout time.Duration) (int64, error) {
	bot, err := tb.NewBot(tb.Settings{
		Token:  secret,
		Poller: &tb.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return 0, err
	}

	done := make(chan int64, 1)
	bot.Handle(tb.OnText, func(c tb.Context) error {
		if strings.TrimSpace(c.Text()) != code {
			return nil
		}
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		select {
		case done <- sender.ID:
		default:
		}
		_ = c.Send("Verification received. You can return to the setup.")
		return nil
	})

	go bot.Start()
	defer bot.Stop()

	select {
	case userID := <-done:
		return userID, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(timeout):
		return 0, errors.New("telegram verification timed out")
	}
}

// promptModel asks for GEMINI_MODEL until the name is one the key can use.
// If the model list cannot be fetched the answer is accepted unchecked.
func (svc *SetupService) promptModel(ctx context2.Context, reader *bufio.Reader, apiKey string) (string, error) {
	available, err := svc.listModels(ctx, apiKey)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		log.Warn().Err(err).Msg("could not list gemini models")
		fmt.Fprintf(svc.out, "Could not verify the model list (%v); the model will be saved unchecked.\n", err)
	}

	for {
		model, err := svc.promptWithDefault(ctx, reader, "Gemini model (GEMINI_MODEL)", svc.cfg.Model, config.DefaultModel, false)
		if err != nil {
			return "", err
		}
		model = strings.ToLower(model)
		if len(available) == 0 || slices.Contains(available, model) {
			return model, nil
		}

		fmt.Fprintf(svc.out, "Unknown model %q. Available models:\n", model)
		for _, name := range available {
			fmt.Fprintf(svc.out, "  %s\n", name)
		}
	}
}

func (svc *SetupService) confirm(ctx context2.Context, reader *bufio.Reader, prompt string) (bool, error) {
	fmt.Fprint(svc.out, prompt)
	text, err := readString(ctx, reader)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	text = strings.TrimSpace(strings.ToLower(text))
	return text == "y" || text == "yes", nil
}

func (svc *SetupService) promptRequired(ctx context2.Context, reader *bufio.Reader, label, current string, secret bool) (string, error) {
	for {
		value, err := svc.promptWithDefault(ctx, reader, label, current, "", secret)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(value) == "" {
			fmt.Fprintln(svc.out, "Value required.")
			continue
		}
		return value, nil
	}
}

func (svc *SetupService) promptWithDefault(ctx context2.Context, reader *bufio.Reader, label, current, fallback string, secret bool) (string, error) {
	display := current
	if display == "" {
		display = fallback
	}
	if secret {
		display = maskSecret(display)
	}

	if display != "" {
		fmt.Fprintf(svc.out, "%s [%s]: ", label, display)
	} else {
		fmt.Fprintf(svc.out, "%s: ", label)
	}

	text, err := readString(ctx, reader)
	if err != nil && !(errors.Is(err, io.EOF) && text != "") {
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		if current != "" {
			return current, nil
		}
		return fallback, nil
	}

	return text, nil
}

func maskSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// updateEnvFile rewrites the given keys in place, keeping comments, order and
// unrelated keys. New keys are appended in sorted order.
func updateEnvFile(path string, updates map[string]string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	var out []string
	written := make(map[string]bool, len(updates))

	scanner := bufio.NewScanner(bytes.NewReader(existing))
	for scanner.Scan() {
		line := scanner.Text()
		prefix, key := parseEnvKey(line)
		value, replace := updates[key]
		if key == "" || !replace {
			out = append(out, line)
			continue
		}

		entry, err := envLine(key, value)
		if err != nil {
			return err
		}
		out = append(out, prefix+entry)
		written[key] = true
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	pending := make([]string, 0, len(updates))
	for key := range updates {
		if !written[key] {
			pending = append(pending, key)
		}
	}
	sort.Strings(pending)
	for _, key := range pending {
		entry, err := envLine(key, updates[key])
		if err != nil {
			return err
		}
		out = append(out, entry)
	}

	content := strings.Join(out, "\n")
	if content != "" {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}

// parseEnvKey returns the optional "export " prefix and the key of a
// KEY=VALUE line, or an empty key for comments and anything unparseable.
func parseEnvKey(line string) (prefix, key string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", ""
	}
	if rest, ok := strings.CutPrefix(trimmed, "export "); ok {
		prefix = "export "
		trimmed = strings.TrimSpace(rest)
	}

	name, _, found := strings.Cut(trimmed, "=")
	name = strings.TrimSpace(name)
	if !found || name == "" {
		return "", ""
	}
	return prefix, name
}

func envLine(key, value string) (string, error) {
	return godotenv.Marshal(map[string]string{key: value})
}
