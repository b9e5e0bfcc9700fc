package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pinode/mesh/linktable"
)

func init() {
	RootCmd.AddCommand(tableCmd)
	RootCmd.AddCommand(countersCmd)
}

func fetch(path string, v any) error {
	c := http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(target + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

func table() error {
	var snap linktable.Snapshot
	if err := fetch("/table", &snap); err != nil {
		return err
	}
	fmt.Printf("%-6s %-5s %s\n", "SLOT", "ID", "MAC")
	for _, s := range snap.Slots {
		fmt.Printf("%-6d 0x%02X %s\n", s.Index, s.ID, s.MAC)
	}
	return nil
}

func counters() error {
	var m map[string]any
	if err := fetch("/counters", &m); err != nil {
		return err
	}
	for k, v := range m {
		fmt.Printf("%-24s %v\n", k, v)
	}
	return nil
}

var tableCmd = &cobra.Command{
	Use:   "table",
	Short: "show the link table of a running node",
	Run: func(_ *cobra.Command, _ []string) {
		if err := table(); err != nil {
			log.Fatal(err)
		}
	},
}

var countersCmd = &cobra.Command{
	Use:   "counters",
	Short: "show the counters of a running node",
	Run: func(_ *cobra.Command, _ []string) {
		if err := counters(); err != nil {
			log.Fatal(err)
		}
	},
}
