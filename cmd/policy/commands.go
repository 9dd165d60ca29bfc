package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/datasafe/papl/cmd/util"
	"github.com/spf13/cobra"
)

var (
	saveCmd = &cobra.Command{
		Use:   "save [key] [value] [version] [stamp]",
		Short: "Saves a policy, replacing value, version and stamp of an existing one",
		Long: `Saves a policy, replacing value, version and stamp of an existing one.
With --file the policy text is read from a file and the value argument is omitted.`,
		Args: cobra.RangeArgs(3, 4),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			var key, value, version, rawStamp string
			switch {
			case file != "" && len(args) == 3:
				content, err := os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("failed to read policy file: %w", err)
				}
				key, value, version, rawStamp = args[0], string(content), args[1], args[2]
			case file == "" && len(args) == 4:
				key, value, version, rawStamp = args[0], args[1], args[2], args[3]
			default:
				return fmt.Errorf("expected [key] [value] [version] [stamp] or --file with [key] [version] [stamp]")
			}

			stamp, err := strconv.ParseInt(rawStamp, 10, 64)
			if err != nil {
				return fmt.Errorf("stamp must be a number: %w", err)
			}
			affected, err := policyStore.Save(key, value, version, stamp)
			if err != nil {
				return err
			}
			fmt.Printf("saved successfully (affected=%d)\n", affected)
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Prints the policy document of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := policyStore.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version [key]",
		Short: "Prints the version label of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := policyStore.Version(args[0])
			if err != nil {
				return err
			}
			fmt.Println(version)
			return nil
		},
	}
	showCmd = &cobra.Command{
		Use:   "show [key]",
		Short: "Prints version and policy document of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, version, err := policyStore.VersionAndValue(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, version=%s\n%s\n", args[0], version, value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key]",
		Short: "Deletes a policy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			affected, err := policyStore.Delete(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("key=%s, deleted=%d\n", args[0], affected)
			return nil
		},
	}
	keysCmd = &cobra.Command{
		Use:   "keys (--min stamp | --max stamp)",
		Short: "Lists the keys with a stamp in a range, optionally page by page",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			atLeast, stamp, err := stampBound(cmd)
			if err != nil {
				return err
			}

			var keys []string
			if cmd.Flags().Changed("size") {
				page, _ := cmd.Flags().GetInt64("page")
				size, _ := cmd.Flags().GetInt64("size")
				if atLeast {
					keys, err = policyStore.KeysWithStampAtLeastPageable(stamp, page, size)
				} else {
					keys, err = policyStore.KeysWithStampAtMostPageable(stamp, page, size)
				}
			} else if atLeast {
				keys, err = policyStore.KeysWithStampAtLeast(stamp)
			} else {
				keys, err = policyStore.KeysWithStampAtMost(stamp)
			}
			if err != nil {
				return err
			}

			for _, key := range keys {
				fmt.Println(key)
			}
			return nil
		},
	}
	evictCmd = &cobra.Command{
		Use:   "evict (--min stamp | --max stamp)",
		Short: "Deletes all policies with a stamp in a range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			atLeast, stamp, err := stampBound(cmd)
			if err != nil {
				return err
			}

			var deleted int64
			if atLeast {
				deleted, err = policyStore.EvictAtLeast(stamp)
			} else {
				deleted, err = policyStore.EvictAtMost(stamp)
			}
			if err != nil {
				return err
			}
			fmt.Printf("evicted=%d\n", deleted)
			return nil
		},
	}
	countCmd = &cobra.Command{
		Use:   "count",
		Short: "Prints the number of stored policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := policyStore.Count()
			if err != nil {
				return err
			}
			fmt.Println(n)
			return nil
		},
	}
	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints information about the database backing the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := policyStore.GetDBInfo()
			if err != nil {
				return err
			}

			features := make([]string, len(info.SupportedFeatures))
			for i, f := range info.SupportedFeatures {
				features[i] = f.String()
			}
			fmt.Printf("type=%s, size=%d bytes\nfeatures=%s\n", info.DbType, info.SizeBytes, strings.Join(features, ","))

			meta, err := json.MarshalIndent(info.Metadata, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}
			fmt.Println(string(meta))
			return nil
		},
	}
	exportCmd = &cobra.Command{
		Use:   "export [file]",
		Short: "Writes a snapshot of all policies to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			file, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("failed to create snapshot file: %w", err)
			}
			defer func() {
				if cerr := file.Close(); err == nil && cerr != nil {
					err = fmt.Errorf("failed to close snapshot file: %w", cerr)
				}
			}()

			if err := policyStore.Export(file); err != nil {
				return err
			}
			fmt.Printf("exported to %s\n", args[0])
			return nil
		},
	}
	importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Saves every policy of a snapshot file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open snapshot file: %w", err)
			}
			defer file.Close()

			if err := policyStore.Import(file); err != nil {
				return err
			}
			n, err := policyStore.Count()
			if err != nil {
				return err
			}
			plog.Infof("imported snapshot %s", args[0])
			fmt.Printf("imported successfully (policies=%d)\n", n)
			return nil
		},
	}
)

func init() {
	saveCmd.Flags().String("file", "", util.WrapString("Read the policy document from this file instead of the value argument"))

	for _, cmd := range []*cobra.Command{keysCmd, evictCmd} {
		cmd.Flags().Int64("min", 0, util.WrapString("Match policies with a stamp greater than or equal to this value"))
		cmd.Flags().Int64("max", 0, util.WrapString("Match policies with a stamp less than or equal to this value"))
		cmd.MarkFlagsMutuallyExclusive("min", "max")
		cmd.MarkFlagsOneRequired("min", "max")
	}

	keysCmd.Flags().Int64("page", 1, util.WrapString("Page to list (starting at 1), only used together with --size"))
	keysCmd.Flags().Int64("size", 0, util.WrapString("Number of keys per page. Without this flag all matching keys are listed"))
}

// stampBound reads the --min or --max flag. The boolean is true for --min.
func stampBound(cmd *cobra.Command) (bool, int64, error) {
	if cmd.Flags().Changed("min") {
		stamp, err := cmd.Flags().GetInt64("min")
		return true, stamp, err
	}
	if cmd.Flags().Changed("max") {
		stamp, err := cmd.Flags().GetInt64("max")
		return false, stamp, err
	}
	return false, 0, fmt.Errorf("one of --min or --max is required")
}
