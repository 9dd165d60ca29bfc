package cmd

import (
	"fmt"
	"os"

	"github.com/datasafe/papl/cmd/util"
	"github.com/datasafe/papl/lib/store/lstore"
	"github.com/spf13/cobra"
)

var (
	// statsCmd opens the store, touches it once and prints the collected metrics
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print store metrics in the Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := util.SetupStore(cmd)
			if err != nil {
				return err
			}

			n, err := s.Count()
			if err != nil {
				s.Close()
				return err
			}
			info, err := s.GetDBInfo()
			if err != nil {
				s.Close()
				return err
			}
			if err := s.Close(); err != nil {
				return err
			}

			fmt.Printf("# engine=%s policies=%d size_bytes=%d\n", info.DbType, n, info.SizeBytes)

			withProcess, _ := cmd.Flags().GetBool("process")
			lstore.WriteMetrics(os.Stdout, withProcess)
			return nil
		},
	}
)

func init() {
	statsCmd.Flags().Bool("process", false, util.WrapString("Include process metrics (memory, cpu, goroutines)"))
}
