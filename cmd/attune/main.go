package main

import (
	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "attune"}

	root.AddCommand(serveCMD(), migrateCMD(), ingestCMD())
	_ = root.Execute()
}
