package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ashureev/mentor-chat/internal/render"
	"github.com/ashureev/mentor-chat/internal/session"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Print the saved conversation for a learner and course",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			id, err := flags.resolveIdentity()
			if err != nil {
				return err
			}
			st, closeStore, err := flags.openScopedStore(ctx, id)
			if err != nil {
				return err
			}
			defer closeStore()

			msgs, found, err := session.LoadTranscript(ctx, st)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintf(cmd.OutOrStdout(), "No saved conversation for %s in %s.\n", id.LearnerID, id.CourseID)
				return nil
			}
			if token, err := session.LoadConversationID(ctx, st); err == nil && token != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Conversation %s\n\n", token)
			}
			return render.New(cmd.OutOrStdout()).Transcript(msgs)
		},
	}
}

func newResetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the saved conversation for a learner and course",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			id, err := flags.resolveIdentity()
			if err != nil {
				return err
			}
			st, closeStore, err := flags.openScopedStore(ctx, id)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := session.Clear(ctx, st); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared conversation for %s in %s.\n", id.LearnerID, id.CourseID)
			return nil
		},
	}
}
