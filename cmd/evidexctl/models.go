package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/evidex/internal/usecase/models"
)

var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Inspect inference models",
}

var modelsStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Load every configured model and report its state",
	Long: `Loads the configured models the same way the API server does and prints the
state of every role. Exits non-zero when a critical role is not READY.`,
	Args: cobra.NoArgs,
	RunE: runModelsStatus,
}

func init() {
	modelsStatusCmd.Flags().BoolVar(&modelsJSON, "json", false, "print status as JSON")
	modelsCmd.AddCommand(modelsStatusCmd)
	rootCmd.AddCommand(modelsCmd)
}

func runModelsStatus(cmd *cobra.Command, _ []string) error {
	stack, cleanup, err := openModels(cmd.Context(), false)
	if err != nil {
		return err
	}
	defer cleanup()

	wait := flagModelsWait
	if wait <= 0 {
		wait = time.Duration(stack.cfg.Models.WaitTimeoutSec) * time.Second
	}
	if !stack.registry.WaitForAll(cmd.Context(), wait) {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: brand models still loading")
	}

	roles := stack.registry.Roles()
	status := stack.registry.Status()
	out := cmd.OutOrStdout()
	if modelsJSON {
		byRole := make(map[string]models.RoleStatus, len(status))
		for role, st := range status {
			byRole[string(role)] = st
		}
		if err := printJSON(out, byRole); err != nil {
			return err
		}
	} else if err := printStatusTable(out, roles, status); err != nil {
		return err
	}

	if !stack.registry.IsReady() {
		return errors.New("critical models not ready")
	}
	return nil
}

func printStatusTable(w io.Writer, roles []models.Role, status map[models.Role]models.RoleStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROLE\tSTATE\tLOAD\tERROR")
	for _, role := range roles {
		st := status[role]
		load := "-"
		if st.LoadDuration > 0 {
			load = st.LoadDuration.Round(time.Millisecond).String()
		}
		errMsg := st.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", role, st.State, load, errMsg)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return nil
}
