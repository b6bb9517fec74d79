package main

import (
	"fmt"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pkgraph/pkgraph-go/internal/config"
)

var (
	configureDelete bool
	configureShow   bool
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Manage the graph database password in the OS keychain",
	RunE: func(cmd *cobra.Command, args []string) error {
		km := config.NewKeyringManager()
		if !km.IsAvailable() {
			return fmt.Errorf("OS keychain not available; set NEO4J_PASSWORD instead")
		}

		switch {
		case configureDelete:
			if err := km.DeleteGraphPassword(); err != nil {
				return err
			}
			fmt.Println("password removed from keychain")
			return nil
		case configureShow:
			password, err := km.GetGraphPassword()
			if err != nil {
				return err
			}
			fmt.Printf("neo4j password: %s\n", config.MaskSecret(password))
			return nil
		}

		fmt.Print("Neo4j password: ")
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}

		if err := km.SaveGraphPassword(string(raw)); err != nil {
			return err
		}
		fmt.Println("password stored in keychain")
		return nil
	},
}

func init() {
	configureCmd.Flags().BoolVar(&configureDelete, "delete", false, "remove the stored password from the keychain")
	configureCmd.Flags().BoolVar(&configureShow, "show", false, "show the stored password, masked")
}
