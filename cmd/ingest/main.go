package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ingest",
	Short: "DICOM ingestion services",
	Long: `Receives DICOM instances over the network and moves their metadata
through the bus into the relational store.

  ingest scp                  accept associations and publish transport records
  ingest consume <pipeline>   run one consumer pipeline
  ingest migrate              create or update the database schema`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
