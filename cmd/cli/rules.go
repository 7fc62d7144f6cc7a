package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"sampark/internal/automation"
	"sampark/internal/notify"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Work with automation rule definitions",
}

var rulesValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a rule, or an array of rules, stored as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		return validateRules(f, cmd.OutOrStdout())
	},
}

func init() {
	rulesCmd.AddCommand(rulesValidateCmd)
	rootCmd.AddCommand(rulesCmd)
}

// validateRules reports every problem of every rule in r and fails if any rule is invalid.
func validateRules(r io.Reader, out io.Writer) error {
	rules, err := decodeRules(r)
	if err != nil {
		return err
	}
	validator := automation.Validator{EmailTemplates: notify.TemplateNames()}

	invalid := 0
	for i, rule := range rules {
		name := rule.Name
		if name == "" {
			name = fmt.Sprintf("#%d", i)
		}
		err := validator.ValidateRule(rule)
		if err == nil {
			fmt.Fprintf(out, "ok      %s\n", name)
			continue
		}
		invalid++
		fmt.Fprintf(out, "invalid %s\n", name)
		for _, p := range problemsOf(err) {
			fmt.Fprintf(out, "        - %v\n", p)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d rules are invalid", invalid, len(rules))
	}
	return nil
}

func problemsOf(err error) []error {
	var verr *automation.ValidationError
	if errors.As(err, &verr) {
		return verr.Problems()
	}
	return multierr.Errors(err)
}

func decodeRules(r io.Reader) ([]automation.Rule, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("no rules found")
	}
	if data[0] == '[' {
		var rules []automation.Rule
		if err := json.Unmarshal(data, &rules); err != nil {
			return nil, fmt.Errorf("decode rules: %w", err)
		}
		return rules, nil
	}
	var rule automation.Rule
	if err := json.Unmarshal(data, &rule); err != nil {
		return nil, fmt.Errorf("decode rule: %w", err)
	}
	return []automation.Rule{rule}, nil
}
