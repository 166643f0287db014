// Command vconctl creates, checks and tags vCon documents offline.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/RegistryAccord/registryaccord-vcon-go/internal/schema"
	"github.com/RegistryAccord/registryaccord-vcon-go/pkg/vcon"
)

func main() {
	exitFn(run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

var exitFn = os.Exit

func run(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "new":
		return handleNew(args[2:], stdout, stderr)
	case "validate":
		return handleValidate(args[2:], stdin, stdout, stderr)
	case "tag":
		return handleTag(args[2:], stdin, stdout, stderr)
	default:
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: vconctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "commands:")
	fmt.Fprintln(w, "  new [-subject S]            print a fresh, empty vCon")
	fmt.Fprintln(w, "  validate [-schema] FILE     check a vCon; exits 1 on violations")
	fmt.Fprintln(w, "  tag FILE NAME VALUE         print FILE with the tag set")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "FILE may be - for standard input.")
}

func handleNew(args []string, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("new", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "conversation subject")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	v := vcon.BuildNew()
	if *subject != "" {
		v.Subject = vcon.Some(*subject)
	}
	return printDocument(v, stdout, stderr)
}

func handleValidate(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	withSchema := fs.Bool("schema", false, "also run the JSON Schema gate the registry applies")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "validate requires <file>")
		return 2
	}

	data, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if *withSchema {
		validator, err := schema.NewValidator()
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		vs, err := validator.Validate(data)
		if err != nil {
			fmt.Fprintln(stderr, err.Error())
			return 1
		}
		if len(vs) > 0 {
			printViolations(stdout, "schema", vs)
			return 1
		}
	}

	v, err := vcon.BuildFromJSON(data)
	if err != nil {
		var sv *vcon.SchemaViolation
		if errors.As(err, &sv) {
			printViolations(stdout, "structure", sv.Violations)
			return 1
		}
		fmt.Fprintln(stderr, err.Error())
		return 1
	}

	if ok, vs := v.IsValid(); !ok {
		printViolations(stdout, "document", vs)
		return 1
	}
	fmt.Fprintf(stdout, "ok: %s\n", v.UUID)
	return 0
}

func handleTag(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	fs := flag.NewFlagSet("tag", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 3 {
		fmt.Fprintln(stderr, "tag requires <file> <name> <value>")
		return 2
	}

	data, err := readInput(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	v, err := vcon.BuildFromJSON(data)
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	v.AddTag(fs.Arg(1), fs.Arg(2))
	return printDocument(v, stdout, stderr)
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printDocument(v *vcon.Vcon, stdout io.Writer, stderr io.Writer) int {
	out, err := v.ToJSON()
	if err != nil {
		fmt.Fprintln(stderr, err.Error())
		return 1
	}
	_, _ = stdout.Write(append(out, '\n'))
	return 0
}

func printViolations(w io.Writer, phase string, vs []vcon.Violation) {
	fmt.Fprintf(w, "invalid (%s): %d violation(s)\n", phase, len(vs))
	for _, v := range vs {
		fmt.Fprintf(w, "  [%s] %s\n", v.Kind, v)
	}
}
