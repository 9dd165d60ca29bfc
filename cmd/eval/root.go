package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/datasafe/papl/cmd/util"
	"github.com/datasafe/papl/lib/eval/rego"
	"github.com/spf13/cobra"
)

var (
	// EvalCmd evaluates a Rego query against policies from the store and files
	EvalCmd = &cobra.Command{
		Use:   "eval [query]",
		Short: "Evaluate a Rego query",
		Long: `Evaluate a Rego query against policies loaded from the store (--policy) or
from files (--policy-file). Data (--data) and input (--input) documents may be
JSON or YAML. With --rule the argument is a rule path (e.g. authz.allow) and
only its value is printed.`,
		Args: cobra.ExactArgs(1),
		RunE: run,
	}
)

func init() {
	key := "policy"
	EvalCmd.Flags().StringSlice(key, nil, util.WrapString("Keys of stored policies to load (repeatable)"))
	key = "policy-file"
	EvalCmd.Flags().StringSlice(key, nil, util.WrapString("Rego files to load (repeatable)"))
	key = "data"
	EvalCmd.Flags().StringSlice(key, nil, util.WrapString("JSON or YAML files merged into the data document (repeatable)"))
	key = "input"
	EvalCmd.Flags().String(key, "", util.WrapString("JSON or YAML file used as input document"))
	key = "rule"
	EvalCmd.Flags().Bool(key, false, util.WrapString("Treat the argument as rule path and print only its value"))
}

func run(cmd *cobra.Command, args []string) error {
	engine := rego.NewEngine()

	keys, _ := cmd.Flags().GetStringSlice("policy")
	if len(keys) > 0 {
		s, err := util.SetupStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		for _, key := range keys {
			if _, err := engine.AddPolicyFromStore(s, key); err != nil {
				return err
			}
		}
	}

	files, _ := cmd.Flags().GetStringSlice("policy-file")
	for _, file := range files {
		text, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read policy file: %w", err)
		}
		if _, err := engine.AddPolicy(file, string(text)); err != nil {
			return err
		}
	}

	dataFiles, _ := cmd.Flags().GetStringSlice("data")
	for _, file := range dataFiles {
		doc, err := os.ReadFile(file)
		if err != nil {
			return fmt.Errorf("failed to read data file: %w", err)
		}
		if err := engine.AddData(doc); err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
	}

	if inputFile, _ := cmd.Flags().GetString("input"); inputFile != "" {
		doc, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		if err := engine.SetInput(doc); err != nil {
			return fmt.Errorf("%s: %w", inputFile, err)
		}
	}

	ctx := context.Background()

	var output any
	if rule, _ := cmd.Flags().GetBool("rule"); rule {
		value, defined, err := engine.EvalRule(ctx, args[0])
		if err != nil {
			return err
		}
		if !defined {
			fmt.Println("undefined")
			return nil
		}
		output = value
	} else {
		results, err := engine.EvalQuery(ctx, args[0])
		if err != nil {
			return err
		}
		output = results
	}

	encoded, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}
