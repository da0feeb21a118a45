package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cart144/dil/pkg/checks"
	"github.com/cart144/dil/pkg/dsl"
	"github.com/cart144/dil/pkg/models"
	"github.com/cart144/dil/pkg/report"
	"github.com/cart144/dil/pkg/rules"
)

// Testable variables for main()
var osExit = os.Exit

func main() {
	osExit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches subcommands and returns the process exit code. Validation
// and verification exit with their three-valued code (0/1/2); usage and
// infrastructure failures exit 1 with a message on stderr.
func run(args []string, out, errOut io.Writer) int {
	if len(args) == 0 {
		usage(errOut)
		return 1
	}
	switch args[0] {
	case "validate":
		return validateCmd(args[1:], out, errOut)
	case "verify":
		return verifyCmd(args[1:], out, errOut)
	case "hash-spec":
		return hashSpecCmd(args[1:], out, errOut)
	default:
		usage(errOut)
		fmt.Fprintf(errOut, "unknown command: %s\n", args[0])
		return 1
	}
}

func usage(out io.Writer) {
	fmt.Fprintln(out, "dilctl commands:")
	fmt.Fprintln(out, "  validate <spec.dil>")
	fmt.Fprintln(out, "  verify --spec spec.dil --receipt <ref> --checks checks.json")
	fmt.Fprintln(out, "  hash-spec <spec.dil>")
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func validateCmd(args []string, out, errOut io.Writer) int {
	fs := newFlagSet("validate")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "validate requires exactly one spec file")
		return 1
	}
	raw, err := readInput(fs.Arg(0))
	if err != nil {
		// Unreadable input is reported through the same canonical shape.
		rep, code := rules.ParseFailureReport(err.Error())
		printReport(out, errOut, rep)
		return code
	}
	rep, code := rules.Validate(string(raw))
	printReport(out, errOut, rep)
	return code
}

func verifyCmd(args []string, out, errOut io.Writer) int {
	fs := newFlagSet("verify")
	specPath := fs.String("spec", "", "spec file")
	receiptRef := fs.String("receipt", "", "validation receipt reference")
	checksPath := fs.String("checks", "", "checks json file")
	timeoutSec := fs.Int("timeout-sec", 120, "overall verification timeout")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if *specPath == "" || *checksPath == "" {
		fmt.Fprintln(errOut, "spec and checks required")
		return 1
	}
	raw, err := readInput(*specPath)
	if err != nil {
		fmt.Fprintf(errOut, "read spec: %v\n", err)
		return 1
	}
	checksRaw, err := readInput(*checksPath)
	if err != nil {
		fmt.Fprintf(errOut, "read checks: %v\n", err)
		return 1
	}
	var specs []models.CheckSpec
	if err := json.Unmarshal(checksRaw, &specs); err != nil {
		fmt.Fprintf(errOut, "decode checks: %v\n", err)
		return 1
	}
	parsed := dsl.Parse(string(raw))

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(*timeoutSec)*time.Second)
	defer cancel()
	receipt, code := checks.NewRunner().Run(ctx, parsed, *receiptRef, specs)
	body, err := report.EmitReceipt(receipt)
	if err != nil {
		fmt.Fprintf(errOut, "emit receipt: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, body)
	return code
}

func hashSpecCmd(args []string, out, errOut io.Writer) int {
	fs := newFlagSet("hash-spec")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(errOut, err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "hash-spec requires exactly one spec file")
		return 1
	}
	raw, err := readInput(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "read spec: %v\n", err)
		return 1
	}
	fmt.Fprintln(out, models.SpecHash(string(raw)))
	return 0
}

func printReport(out, errOut io.Writer, rep models.CanonicalReport) {
	body, err := report.Emit(rep)
	if err != nil {
		fmt.Fprintf(errOut, "emit report: %v\n", err)
		return
	}
	fmt.Fprintln(out, body)
}

// readInput reads a file, or stdin when path is "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
