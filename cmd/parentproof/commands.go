package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/parentproof/internal/answer"
	"github.com/kalambet/parentproof/internal/api"
	"github.com/kalambet/parentproof/internal/config"
	"github.com/kalambet/parentproof/internal/semcache"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question through the running server",
	Long: `Ask a question through the running server.

Examples:
  parentproof ask "Is it safe to drink coffee while pregnant?"
  parentproof ask --user u123 --json "When should my baby start solids?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		asJSON, _ := cmd.Flags().GetBool("json")

		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			return errors.New("question is required")
		}

		client, err := newUserClient(user)
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/answer", map[string]string{"question": question})
		if err != nil {
			return err
		}
		cached := resp.Header.Get("X-Cache") == "HIT"

		var a answer.Answer
		if err := decodeJSON(resp, &a); err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(a)
		}
		printAnswer(cmd.OutOrStdout(), a)
		if cached {
			printStep("served from cache")
		}
		return nil
	},
}

func printAnswer(w io.Writer, a answer.Answer) {
	section := func(title string, claims []string) {
		fmt.Fprintln(w, colorize(colorBold, title))
		if len(claims) == 0 {
			fmt.Fprintln(w, "  (none)")
		}
		for _, c := range claims {
			fmt.Fprintf(w, "  • %s\n", c)
		}
		fmt.Fprintln(w)
	}
	section("Pros", a.Pros)
	section("Cons", a.Cons)

	if len(a.Citations) == 0 {
		return
	}
	fmt.Fprintln(w, colorize(colorBold, "Sources"))
	for _, c := range a.Citations {
		if c.URL != "" {
			fmt.Fprintf(w, "  [%d] %s\n      %s\n", c.ID, c.Text, colorize(colorCyan, c.URL))
		} else {
			fmt.Fprintf(w, "  [%d] %s\n", c.ID, c.Text)
		}
	}
}

func init() {
	askCmd.Flags().String("user", "", "user ID to ask as (default: mcp.user_id)")
	askCmd.Flags().Bool("json", false, "print the raw JSON answer")
}

// --- quota ---

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show today's request count for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")

		client, err := newUserClient(user)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/quota")
		if err != nil {
			return err
		}

		var q struct {
			Count     int       `json:"count"`
			Limit     int       `json:"limit"`
			Remaining int       `json:"remaining"`
			ResetAt   time.Time `json:"reset_at"`
		}
		if err := decodeJSON(resp, &q); err != nil {
			return err
		}

		printStatus("Used", "%d of %d", q.Count, q.Limit)
		printStatus("Remaining", "%d", q.Remaining)
		printStatus("Resets", "%s", q.ResetAt.Local().Format(time.RFC1123))
		return nil
	},
}

func init() {
	quotaCmd.Flags().String("user", "", "user ID (default: mcp.user_id)")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent questions for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newUserClient(user)
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/history?limit=%d", limit))
		if err != nil {
			return err
		}

		var entries []struct {
			Question  string    `json:"question"`
			Outcome   string    `json:"outcome"`
			CreatedAt time.Time `json:"created_at"`
		}
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No questions yet.")
			return nil
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s  %-14s  %s\n", "WHEN", "OUTCOME", "QUESTION")
		for _, e := range entries {
			fmt.Fprintf(out, "%-20s  %-14s  %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"), e.Outcome, truncate(e.Question, 80))
		}
		return nil
	},
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	historyCmd.Flags().String("user", "", "user ID (default: mcp.user_id)")
	historyCmd.Flags().Int("limit", 20, "maximum number of entries to list")
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user subscriptions",
}

var usersProvisionCmd = &cobra.Command{
	Use:   "provision <user-id>",
	Short: "Activate a subscription and create the quota record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		days, _ := cmd.Flags().GetInt("days")
		if days <= 0 {
			return errors.New("--days must be positive")
		}

		client, err := newAdminClient()
		if err != nil {
			return err
		}
		body := map[string]any{
			"status":             status,
			"current_period_end": time.Now().AddDate(0, 0, days),
		}
		resp, err := client.post(cmd.Context(), "/admin/users/"+url.PathEscape(args[0]), body)
		if err != nil {
			return err
		}
		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Provisioned %s (%s until %v)", args[0], result["status"], result["current_period_end"])
		return nil
	},
}

func init() {
	usersProvisionCmd.Flags().String("status", "active", "subscription status")
	usersProvisionCmd.Flags().Int("days", 30, "subscription period length in days")
	usersCmd.AddCommand(usersProvisionCmd)
}

// --- cache ---

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or seed the answer cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache entry count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAdminClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/admin/cache/stats")
		if err != nil {
			return err
		}
		var st semcache.Stats
		if err := decodeJSON(resp, &st); err != nil {
			return err
		}
		printStatus("Entries", "%d", st.Entries)
		return nil
	},
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Bulk-load question/answer pairs from a JSON file",
	Long: `Bulk-load question/answer pairs from a JSON file.

The file holds either an array of {"question", "answer"} objects or an
object with an "entries" array of them. The import is all-or-nothing.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading file: %w", err)
		}
		entries, err := parseImport(data)
		if err != nil {
			return err
		}

		client, err := newAdminClient()
		if err != nil {
			return err
		}
		printStep("Importing %d entries...", len(entries))
		resp, err := client.post(cmd.Context(), "/admin/cache", map[string]any{"entries": entries})
		if err != nil {
			return err
		}
		var result struct {
			Stored int `json:"stored"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Stored %d entries", result.Stored)
		return nil
	},
}

func parseImport(data []byte) ([]semcache.Entry, error) {
	var entries []semcache.Entry
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parsing entries: %w", err)
		}
	} else {
		var wrapped struct {
			Entries []semcache.Entry `json:"entries"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, fmt.Errorf("parsing entries: %w", err)
		}
		entries = wrapped.Entries
	}
	if len(entries) == 0 {
		return nil, errors.New("file contains no entries")
	}
	for i, e := range entries {
		if strings.TrimSpace(e.Question) == "" {
			return nil, fmt.Errorf("entry %d: question is required", i)
		}
		if err := e.Answer.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return entries, nil
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheImportCmd)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token <user-id>",
	Short: "Sign an API token for a user (development)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tok, err := api.IssueToken(cfg.Auth.JWTSecret, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n", config.ConfigPath())
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value in the config file. Secrets are read from\n" +
		"PARENTPROOF_* environment variables only.\n\nKeys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
