// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Waypoint Contributors

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/waypoint-dev/waypoint/internal/config"
	"github.com/waypoint-dev/waypoint/internal/provider"
	"github.com/waypoint-dev/waypoint/internal/secrets"
	wperr "github.com/waypoint-dev/waypoint/pkg/errors"
)

// initHTTPClient is the HTTP client used for key validation.
// Exposed as a variable so tests can replace it.
var initHTTPClient = &http.Client{Timeout: 10 * time.Second}

// initWizardStep tracks which step of the wizard is active.
type initWizardStep int

const (
	stepPrimary         initWizardStep = iota // select primary provider
	stepPrimaryKey                            // enter primary API key
	stepValidatePrimary                       // validating primary key (spinner)
	stepBackup                                // select backup provider
	stepBackupKey                             // enter backup API key
	stepValidateBackup                        // validating backup key (spinner)
	stepDone                                  // wizard complete
	stepError                                 // terminal error
)

// providerChoice is one provider collected by the wizard.
type providerChoice struct {
	Type   string
	APIKey string
}

// initResult holds the collected wizard configuration. Backup is empty when
// the step was skipped.
type initResult struct {
	Primary providerChoice
	Backup  providerChoice
}

// --- bubbletea messages ---

type (
	validationSuccessMsg struct{ step initWizardStep }
	validationErrorMsg   struct {
		step initWizardStep
		err  error
	}
)
type configWrittenMsg struct{ path string }

// --- lipgloss styles ---

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	boxStyle      = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(0, 1)
)

// cloudProviders are the provider types the wizard offers. The local
// responder is always added to the generated chain.
var cloudProviders = []string{
	provider.TypeAnthropic,
	provider.TypeOpenAI,
	provider.TypeGoogle,
	provider.TypeOpenRouter,
}

// initModel is the bubbletea model for the init wizard.
type initModel struct {
	step           initWizardStep
	cursor         int
	keyInput       textinput.Model
	spinner        spinner.Model
	result         initResult
	validationErr  string
	configPath     string
	secretStore    secrets.Store
	errFinal       error
	skipBackup     bool
	forceOverwrite bool
}

func newInitModel(store secrets.Store) initModel {
	key := textinput.New()
	key.Placeholder = "paste API key here"
	key.EchoMode = textinput.EchoPassword
	key.EchoCharacter = '•'

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return initModel{
		step:        stepPrimary,
		keyInput:    key,
		spinner:     sp,
		secretStore: store,
	}
}

// choices returns the providers selectable at the current step. The backup
// list omits the primary.
func (m initModel) choices() []string {
	if m.step != stepBackup {
		return cloudProviders
	}
	out := make([]string, 0, len(cloudProviders)-1)
	for _, p := range cloudProviders {
		if p != m.result.Primary.Type {
			out = append(out, p)
		}
	}
	return out
}

func (m initModel) Init() tea.Cmd {
	return nil
}

func (m initModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case validationSuccessMsg:
		return m.handleValidationSuccess(msg)

	case validationErrorMsg:
		m.validationErr = msg.err.Error()
		switch msg.step {
		case stepValidatePrimary:
			m.step = stepPrimaryKey
		case stepValidateBackup:
			m.step = stepBackupKey
		}
		m.keyInput.Focus()
		return m, nil

	case configWrittenMsg:
		m.step = stepDone
		m.configPath = msg.path
		return m, tea.Quit

	case error:
		m.step = stepError
		m.errFinal = msg
		return m, tea.Quit
	}

	return m.updateInput(msg)
}

func (m initModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.step {
	case stepPrimary, stepBackup:
		return m.handleSelectKey(msg)
	case stepPrimaryKey, stepBackupKey:
		return m.handleKeyInput(msg)
	}
	return m, nil
}

func (m initModel) handleSelectKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	choices := m.choices()
	switch msg.String() {
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(choices)-1 {
			m.cursor++
		}
	case "enter":
		if m.step == stepPrimary {
			m.result.Primary.Type = choices[m.cursor]
			m.step = stepPrimaryKey
		} else {
			m.result.Backup.Type = choices[m.cursor]
			m.step = stepBackupKey
		}
		m.validationErr = ""
		m.keyInput.SetValue("")
		m.keyInput.Focus()
		return m, textinput.Blink
	case "s":
		if m.step == stepBackup {
			m.result.Backup = providerChoice{}
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

func (m initModel) handleKeyInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		key := strings.TrimSpace(m.keyInput.Value())
		if key == "" {
			m.validationErr = "API key must not be empty"
			return m, nil
		}
		m.validationErr = ""
		var typ string
		var next initWizardStep
		if m.step == stepPrimaryKey {
			m.result.Primary.APIKey = key
			typ, next = m.result.Primary.Type, stepValidatePrimary
		} else {
			m.result.Backup.APIKey = key
			typ, next = m.result.Backup.Type, stepValidateBackup
		}
		m.step = next
		return m, tea.Batch(
			m.spinner.Tick,
			validateProviderKeyCmd(next, typ, key),
		)
	case "ctrl+c":
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.keyInput, cmd = m.keyInput.Update(msg)
	return m, cmd
}

func (m initModel) handleValidationSuccess(msg validationSuccessMsg) (tea.Model, tea.Cmd) {
	switch msg.step {
	case stepValidatePrimary:
		if m.skipBackup {
			return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
		}
		m.step = stepBackup
		m.cursor = 0
		m.keyInput.Blur()
	case stepValidateBackup:
		return m, writeConfigCmd(m.result, m.secretStore, m.forceOverwrite)
	}
	return m, nil
}

func (m initModel) updateInput(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.step != stepPrimaryKey && m.step != stepBackupKey {
		return m, nil
	}
	var cmd tea.Cmd
	m.keyInput, cmd = m.keyInput.Update(msg)
	return m, cmd
}

func (m initModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("  Waypoint Setup Wizard  ") + "\n\n")

	switch m.step {
	case stepPrimary, stepBackup:
		if m.step == stepPrimary {
			b.WriteString(promptStyle.Render("Step 1/2: Choose your primary LLM provider") + "\n\n")
		} else {
			b.WriteString(promptStyle.Render("Step 2/2: Add a backup provider for failover") + "\n\n")
		}
		for i, p := range m.choices() {
			if i == m.cursor {
				b.WriteString(selectedStyle.Render("  > "+p) + "\n")
			} else {
				b.WriteString(dimStyle.Render("    "+p) + "\n")
			}
		}
		help := "↑/↓ to navigate  enter to select  q to quit"
		if m.step == stepBackup {
			help = "↑/↓ to navigate  enter to select  s to skip  q to quit"
		}
		b.WriteString("\n" + dimStyle.Render(help))

	case stepPrimaryKey, stepBackupKey:
		label, typ := "Step 1/2: ", m.result.Primary.Type
		if m.step == stepBackupKey {
			label, typ = "Step 2/2: ", m.result.Backup.Type
		}
		b.WriteString(promptStyle.Render(label+typ+" API key") + "\n\n")
		b.WriteString(m.keyInput.View() + "\n")
		if m.validationErr != "" {
			b.WriteString("\n" + errorStyle.Render("  "+m.validationErr) + "\n")
		}
		b.WriteString("\n" + dimStyle.Render("enter to continue  ctrl+c to quit"))

	case stepValidatePrimary:
		b.WriteString(m.spinner.View() + " Validating " + m.result.Primary.Type + " API key…\n")

	case stepValidateBackup:
		b.WriteString(m.spinner.View() + " Validating " + m.result.Backup.Type + " API key…\n")

	case stepDone:
		b.WriteString(successStyle.Render("  Setup complete!  ") + "\n\n")
		if m.configPath != "" {
			b.WriteString(dimStyle.Render("Config written to: "+m.configPath) + "\n\n")
		}
		b.WriteString("Run " + promptStyle.Render("waypoint start") + " to start the gateway.\n")
		b.WriteString("Run " + promptStyle.Render("waypoint doctor") + " to verify setup.\n")

	case stepError:
		b.WriteString(errorStyle.Render("Setup failed: "+m.errFinal.Error()) + "\n")
	}

	return boxStyle.Render(b.String())
}

// --- tea.Cmd factories ---

func validateProviderKeyCmd(step initWizardStep, typ, key string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), initHTTPClient.Timeout)
		defer cancel()
		if err := provider.ValidateKey(ctx, initHTTPClient, typ, key, ""); err != nil {
			return validationErrorMsg{step: step, err: err}
		}
		return validationSuccessMsg{step: step}
	}
}

func writeConfigCmd(result initResult, store secrets.Store, forceOverwrite bool) tea.Cmd {
	return func() tea.Msg {
		path, err := storeSecretsAndWriteConfig(result, store, forceOverwrite)
		if err != nil {
			return err
		}
		return configWrittenMsg{path: path}
	}
}

// --- Config generation (exported for tests) ---

// secretName is the credential name the generated config references for a
// provider type.
func secretName(typ string) string {
	return typ + "_api_key"
}

// GenerateConfigYAML produces a waypoint.yaml from the wizard result. API
// keys are referenced by secret name only; the values live in the keyring.
func GenerateConfigYAML(result initResult) string {
	chosen := []providerChoice{result.Primary}
	if result.Backup.Type != "" {
		chosen = append(chosen, result.Backup)
	}

	var sb strings.Builder
	sb.WriteString("# Waypoint configuration, generated by waypoint init.\n")
	sb.WriteString("# Every key can be overridden with a WAYPOINT_ environment variable.\n\n")

	sb.WriteString("networking:\n")
	sb.WriteString("  listen: \"127.0.0.1:18790\"\n\n")

	sb.WriteString("storage:\n")
	sb.WriteString("  backend: sqlite\n")
	sb.WriteString("  path: waypoint.db\n\n")

	sb.WriteString("# Credentials are read from the OS keyring (service \"waypoint\").\n")
	sb.WriteString("providers:\n")
	for _, p := range chosen {
		fmt.Fprintf(&sb, "  %s:\n", p.Type)
		fmt.Fprintf(&sb, "    type: %s\n", p.Type)
		fmt.Fprintf(&sb, "    secret: %s\n", secretName(p.Type))
		fmt.Fprintf(&sb, "    model: %q\n", defaultModelForProvider(p.Type))
	}
	sb.WriteString("  local:\n")
	sb.WriteString("    type: local\n\n")

	ids := make([]string, 0, len(chosen)+1)
	for _, p := range chosen {
		ids = append(ids, p.Type)
	}
	ids = append(ids, "local")

	sb.WriteString("# Seed chains, used until the authoritative store publishes its own.\n")
	sb.WriteString("chains:\n")
	fmt.Fprintf(&sb, "  chat: [%s]\n", strings.Join(ids, ", "))

	return sb.String()
}

// defaultModelForProvider returns a sensible default model for a provider type.
func defaultModelForProvider(typ string) string {
	switch typ {
	case provider.TypeAnthropic:
		return "claude-sonnet-4-5"
	case provider.TypeOpenAI:
		return "gpt-4.1-mini"
	case provider.TypeGoogle:
		return "gemini-2.5-flash"
	case provider.TypeOpenRouter:
		return "anthropic/claude-sonnet-4.5"
	default:
		return ""
	}
}

// storeSecretsAndWriteConfig saves the API keys to the keyring and writes
// the config YAML to the default config path.
//
// When forceOverwrite is false and the config file already exists, an error
// is returned asking the user to pass --force.
func storeSecretsAndWriteConfig(result initResult, store secrets.Store, forceOverwrite bool) (string, error) {
	cfgPath, err := configPathForWrite()
	if err != nil {
		return "", err
	}
	if !forceOverwrite {
		if _, statErr := os.Stat(cfgPath); statErr == nil {
			return "", wperr.Errorf(wperr.CodeCLISetupFailure,
				"config file already exists at %s; use --force to overwrite", cfgPath)
		}
	}

	// Keys stored before a failed config write are left in place; a re-run
	// overwrites them.
	for _, p := range []providerChoice{result.Primary, result.Backup} {
		if p.Type == "" {
			continue
		}
		if err := store.Store(keyringService(), secretName(p.Type), p.APIKey); err != nil {
			return "", wperr.Errorf(wperr.CodeSecretStoreFailure, "storing %s API key: %w", p.Type, err)
		}
	}

	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", wperr.Errorf(wperr.CodeConfigLoadReadFailure, "creating config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(cfgPath, []byte(GenerateConfigYAML(result)), 0o600); err != nil {
		return "", wperr.Errorf(wperr.CodeConfigLoadReadFailure, "writing config to %s: %w", cfgPath, err)
	}

	return cfgPath, nil
}

// configPathForWrite returns the path init writes to. A variable so tests
// can redirect it.
var configPathForWrite = config.DefaultConfigPath

// --- Cobra command ---

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive setup wizard for Waypoint",
		Long: `Run an interactive TUI wizard that walks you through:
  1. Choosing a primary LLM provider (Anthropic, OpenAI, Google, OpenRouter)
  2. Adding a backup provider for failover

API keys are validated against the provider, stored in the OS keyring and
referenced by name in the config file. No secrets are written in plain text.

After completion, run:
  waypoint start    start the gateway
  waypoint doctor   verify your setup`,
		RunE: runInit,
	}

	cmd.Flags().Bool("skip-backup", false, "Skip the backup provider step")
	cmd.Flags().Bool("force", false, "Overwrite existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, _ []string) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"waypoint init requires an interactive terminal.\n"+
				"To configure Waypoint non-interactively, edit ~/.config/waypoint/waypoint.yaml\n"+
				"and store keys with 'waypoint secret set <name>'.")
		return wperr.New(wperr.CodeCLISetupFailure, "waypoint init: not an interactive terminal")
	}

	skipBackup, _ := cmd.Flags().GetBool("skip-backup")
	forceOverwrite, _ := cmd.Flags().GetBool("force")

	m := newInitModel(secretStoreFactory())
	m.skipBackup = skipBackup
	m.forceOverwrite = forceOverwrite

	finalModel, err := tea.NewProgram(m, tea.WithAltScreen()).Run()
	if err != nil {
		return wperr.Errorf(wperr.CodeCLISetupFailure, "init wizard error: %w", err)
	}

	fm, ok := finalModel.(initModel)
	if !ok {
		return wperr.New(wperr.CodeCLISetupFailure, "unexpected model type after wizard")
	}
	if fm.errFinal != nil {
		return wperr.Errorf(wperr.CodeCLISetupFailure, "init failed: %w", fm.errFinal)
	}

	// Quitting before the last step is not an error.
	return nil
}

// isTerminal reports whether f is a terminal file descriptor.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
