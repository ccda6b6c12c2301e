package main

import (
	"fmt"
	"strings"

	"fieldsync/internal/fieldsync"

	"github.com/spf13/cobra"
)

var putCmd = &cobra.Command{
	Use:   "put TYPE ID [PAYLOAD]",
	Short: "Create, update or delete an entity",
	Long: "Writes go to the server first. When it cannot be reached the change is\n" +
		"kept locally as pending and replayed by the next drain.",
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		create, _ := cmd.Flags().GetBool("create")
		del, _ := cmd.Flags().GetBool("delete")
		token, _ := cmd.Flags().GetString("token")

		op := fieldsync.OpUpdate
		switch {
		case create:
			op = fieldsync.OpCreate
		case del:
			op = fieldsync.OpDelete
		}
		var payload string
		if len(args) == 3 {
			payload = args[2]
		}
		if op != fieldsync.OpDelete && payload == "" {
			return fmt.Errorf("%s needs a JSON payload", op)
		}

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "put")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Put(ctx, args[0], args[1], op, payload, token)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s/%s: %s\n", op, rec.Type, rec.ID, rec.State)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get TYPE ID",
	Short: "Show a cached entity",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "get")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Get(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		printRecord(rec)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list TYPE",
	Short: "List cached entities",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		states, _ := cmd.Flags().GetString("state")
		fields, _ := cmd.Flags().GetStringArray("field")
		deleted, _ := cmd.Flags().GetBool("deleted")

		ctx, cancel := signalContext()
		defer cancel()

		a, err := newApp(ctx, cmd, "list")
		if err != nil {
			return err
		}
		defer a.Close()

		recs, err := a.List(ctx, args[0], states, fields, deleted)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No entities found.")
			return nil
		}
		for _, rec := range recs {
			fmt.Printf("%-10s  %-36s  v%-4d  %s\n", rec.State, rec.ID, rec.Version, rec.Payload)
		}
		return nil
	},
}

func printRecord(rec *fieldsync.EntityRecord) {
	fmt.Printf("Entity:   %s/%s\n", rec.Type, rec.ID)
	fmt.Printf("State:    %s\n", rec.State)
	fmt.Printf("Version:  %d (server %s)\n", rec.Version, orDash(rec.RemoteVersion))
	fmt.Printf("Updated:  %s\n", rec.UpdatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Payload:  %s\n", rec.Payload)
	if c := rec.Conflict; c != nil {
		fmt.Printf("Conflict: %s on %s: %s\n", c.Kind, c.Operation, c.Message)
		if len(c.ServerPayload) > 0 {
			fmt.Printf("Server:   %s (version %s)\n", c.ServerPayload, orDash(c.ServerVersion))
		}
	}
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
