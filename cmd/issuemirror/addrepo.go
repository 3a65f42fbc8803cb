package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/issuemirror/issuemirror/config"
	"github.com/issuemirror/issuemirror/internal/api"
	"github.com/issuemirror/issuemirror/internal/sync"
)

var addRepoOwner string

var addRepoCmd = &cobra.Command{
	Use:   "add-repo [owner/name]",
	Short: "Add repositories to the configuration",
	Long: `Add repositories to the configuration.

With an owner/name argument the single repository is added. With
--owner, every repository of that owner is discovered via the API and
added.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAddRepo,
}

func init() {
	addRepoCmd.Flags().StringVar(&addRepoOwner, "owner", "", "add all repositories of this owner")
	rootCmd.AddCommand(addRepoCmd)
}

func runAddRepo(cmd *cobra.Command, args []string) error {
	if (len(args) == 0) == (addRepoOwner == "") {
		return errors.New("provide either an owner/name argument or --owner")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var toAdd []string
	if len(args) == 1 {
		if _, _, err := sync.ParseRepositoryString(args[0]); err != nil {
			return err
		}
		toAdd = []string{args[0]}
	} else {
		client := api.NewGitHubClient(cfg.GitHubToken)
		repos, _, err := client.ListRepositoriesForOwner(context.Background(), addRepoOwner)
		if err != nil {
			return fmt.Errorf("failed to list repositories for %s: %w", addRepoOwner, err)
		}
		for _, repo := range repos {
			toAdd = append(toAdd, repo.FullName)
		}
	}

	existing := make(map[string]bool, len(cfg.Repositories))
	for _, repo := range cfg.Repositories {
		existing[repo] = true
	}

	added := 0
	for _, repo := range toAdd {
		if existing[repo] {
			logger.Info().Str("repo", repo).Msg("repository already configured")
			continue
		}
		cfg.Repositories = append(cfg.Repositories, repo)
		existing[repo] = true
		added++
		logger.Info().Str("repo", repo).Msg("repository added")
	}

	if added == 0 {
		return nil
	}
	return config.SaveConfig(cfg, cfgPath)
}
