package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/comet/pkg/client"
)

var sendCmd = &cobra.Command{
	Use:   "send [file...]",
	Short: "Submit VOEvents to a broker as an author",
	Long: `Submit one or more VOEvent documents to a broker's receiver port and
report the ack or nak for each. With no files, a single document is read
from standard input.

Examples:
  # Submit an event
  comet send --broker localhost:8098 event.xml

  # Submit from a pipeline
  generate-alert | comet send --broker broker.example.org:8098`,
	RunE: runSend,
}

func init() {
	registerSendFlags(sendCmd)
	rootCmd.AddCommand(sendCmd)
}

func registerSendFlags(cmd *cobra.Command) {
	cmd.Flags().String("broker", "localhost:8098", "Broker receiver address")
	cmd.Flags().Duration("timeout", client.DefaultTimeout, "Timeout for each submission")
}

func runSend(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("broker")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	docs, err := readDocuments(cmd.InOrStdin(), args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout*time.Duration(len(docs)))
	defer cancel()

	c, err := client.NewClient(ctx, addr)
	if err != nil {
		return err
	}
	defer c.Close()
	c.WithTimeout(timeout)

	rejected := 0
	for _, doc := range docs {
		ack, err := c.Submit(ctx, doc.data)
		if err != nil {
			return fmt.Errorf("%s: %w", doc.name, err)
		}
		if ack.Accepted {
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s accepted (%s)\n", doc.name, ack.IVORN)
			continue
		}
		rejected++
		fmt.Fprintf(cmd.OutOrStdout(), "✗ %s rejected: %s\n", doc.name, ack.Reason)
	}

	if rejected > 0 {
		return fmt.Errorf("%d of %d events rejected", rejected, len(docs))
	}
	return nil
}

type document struct {
	name string
	data []byte
}

// readDocuments reads each named file, or stdin when there are none
func readDocuments(stdin io.Reader, files []string) ([]document, error) {
	if len(files) == 0 {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return []document{{name: "stdin", data: data}}, nil
	}

	docs := make([]document, 0, len(files))
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		docs = append(docs, document{name: name, data: data})
	}
	return docs, nil
}
