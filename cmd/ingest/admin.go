package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/otcheredev/ris-dicom-ingest/internal/database"
	"github.com/otcheredev/ris-dicom-ingest/internal/repository"
	"github.com/otcheredev/ris-dicom-ingest/pkg/dimse"
)

var (
	echoHost      string
	echoPort      int
	echoCalledAE  string
	echoCallingAE string
	echoTimeout   time.Duration

	statesTenant string
	statesStudy  string
	statesLimit  int
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		db, err := a.openDB()
		if err != nil {
			return err
		}
		defer database.Close(db)

		if err := database.AutoMigrate(db); err != nil {
			return err
		}
		a.logger.Info().Msg("database migrated")
		return nil
	},
}

var echoCmd = &cobra.Command{
	Use:   "echo",
	Short: "Send a C-ECHO to a DICOM node",
	Long: `Opens an association, sends C-ECHO and releases it.

Example:
  ingest echo --host pacs.local --port 104 --called-ae PACS`,
	RunE: func(cmd *cobra.Command, args []string) error {
		assoc := dimse.NewAssociation(dimse.AssociationConfig{
			Host:       echoHost,
			Port:       echoPort,
			CallingAET: echoCallingAE,
			CalledAET:  echoCalledAE,
			Timeout:    echoTimeout,
		})

		ctx, cancel := context.WithTimeout(cmd.Context(), echoTimeout)
		defer cancel()

		start := time.Now()
		if err := assoc.CEcho(ctx); err != nil {
			return fmt.Errorf("C-ECHO to %s@%s:%d failed: %w", echoCalledAE, echoHost, echoPort, err)
		}
		if err := assoc.Close(); err != nil {
			return err
		}
		fmt.Printf("C-ECHO %s@%s:%d succeeded in %s\n", echoCalledAE, echoHost, echoPort, time.Since(start).Round(time.Millisecond))
		return nil
	},
}

var statesCmd = &cobra.Command{
	Use:   "states",
	Short: "Print the series state records of a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		db, err := a.openDB()
		if err != nil {
			return err
		}
		defer database.Close(db)

		states, err := repository.NewStateRepository(db).GetStateMetas(cmd.Context(), statesTenant, statesStudy, statesLimit)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(states)
	},
}

func init() {
	echoCmd.Flags().StringVar(&echoHost, "host", "127.0.0.1", "peer host")
	echoCmd.Flags().IntVar(&echoPort, "port", 11112, "peer port")
	echoCmd.Flags().StringVar(&echoCalledAE, "called-ae", "RIS_INGEST", "called AE title")
	echoCmd.Flags().StringVar(&echoCallingAE, "calling-ae", "ECHOSCU", "calling AE title")
	echoCmd.Flags().DurationVar(&echoTimeout, "timeout", 10*time.Second, "association timeout")

	statesCmd.Flags().StringVar(&statesTenant, "tenant", "", "tenant id")
	statesCmd.Flags().StringVar(&statesStudy, "study", "", "study instance UID (all studies when empty)")
	statesCmd.Flags().IntVar(&statesLimit, "limit", 100, "maximum rows")
	_ = statesCmd.MarkFlagRequired("tenant")

	rootCmd.AddCommand(migrateCmd, echoCmd, statesCmd)
}
