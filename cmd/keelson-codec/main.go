// keelson-codec encloses values into keelson envelopes and uncovers them
// again from the command line. The value is read from stdin and the result
// is written to stdout, so commands compose with pipes:
//
//	echo -n '{"angle": 12.5}' | keelson-codec keelson-enclose-from-json rudder_angle \
//	    | keelson-codec keelson-uncover-to-json
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/trickstertwo/xlog"
	"github.com/trickstertwo/xlog/adapter/zerolog"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/trickstertwo/keelson"
	"github.com/trickstertwo/keelson/payloads"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if keelson.IsCodecError(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type options struct {
	tagsPath        string
	descriptorsPath string
	verbose         bool
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("keelson-codec", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.tagsPath, "tags", "", "tags.yaml to use instead of the bundled registry")
	flagSet.StringVar(&opts.descriptorsPath, "descriptors", "", "binary FileDescriptorSet for --tags (default: bundled descriptors)")
	flagSet.BoolVarP(&opts.verbose, "verbose", "v", false, "log codec events to stderr")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stderr, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(stderr, flagSet)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return errors.New("missing command")
	}
	command, rest := rest[0], rest[1:]

	reg, err := loadRegistry(opts)
	if err != nil {
		return err
	}

	switch command {
	case "list-tags":
		return listTags(stdout, reg)
	case "export-tags":
		return exportTags(stdout, opts)
	case "export-descriptors":
		return exportDescriptors(stdout, reg, rest)
	}

	minLevel := xlog.LevelWarn
	if opts.verbose {
		minLevel = xlog.LevelDebug
	}
	logger := zerolog.Use(zerolog.Config{
		MinLevel:          minLevel,
		Console:           true,
		ConsoleTimeFormat: time.RFC3339Nano,
		Writer:            stderr,
	}).With(xlog.Str("app", "keelson-codec"))

	codec, closeCodec, err := keelson.New(func(b *keelson.CodecBuilder) {
		b.WithRegistry(reg).WithLogger(logger)
	})
	if err != nil {
		return err
	}
	defer closeCodec()

	eps := keelson.NewEntrypoints(codec)
	input, err := io.ReadAll(stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}

	if enc, err := eps.Encoder(command); err == nil {
		if len(rest) != 1 {
			return fmt.Errorf("%s: expected exactly one TAG argument", command)
		}
		value := string(input)
		if strings.HasSuffix(command, "base64") {
			value = strings.TrimSpace(value)
		}
		out, err := enc(rest[0], value)
		if err != nil {
			return err
		}
		_, err = stdout.Write(out)
		return err
	}

	dec, err := eps.Decoder(command)
	if err != nil {
		return fmt.Errorf("unknown command %q: %w", command, err)
	}
	if len(rest) != 0 {
		return fmt.Errorf("%s: unexpected argument %q", command, rest[0])
	}
	out, err := dec(input)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(command, "text") {
		out += "\n"
	}
	_, err = io.WriteString(stdout, out)
	return err
}

func loadRegistry(opts options) (*keelson.Registry, error) {
	if opts.tagsPath == "" {
		if opts.descriptorsPath != "" {
			return nil, errors.New("--descriptors requires --tags")
		}
		return payloads.Registry()
	}
	tags, err := os.ReadFile(opts.tagsPath)
	if err != nil {
		return nil, fmt.Errorf("read tags: %w", err)
	}
	var desc []byte
	if opts.descriptorsPath != "" {
		desc, err = os.ReadFile(opts.descriptorsPath)
	} else {
		desc, err = payloads.DescriptorSet()
	}
	if err != nil {
		return nil, fmt.Errorf("read descriptors: %w", err)
	}
	return keelson.NewRegistry(tags, desc)
}

func listTags(w io.Writer, reg *keelson.Registry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TAG\tENCODING\tSCHEMA")
	for _, name := range reg.Tags() {
		entry, err := reg.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.Name, entry.Encoding, entry.SchemaName())
	}
	return tw.Flush()
}

func exportTags(w io.Writer, opts options) error {
	doc := payloads.TagsYAML()
	if opts.tagsPath != "" {
		var err error
		if doc, err = os.ReadFile(opts.tagsPath); err != nil {
			return fmt.Errorf("read tags: %w", err)
		}
	}
	_, err := io.Copy(w, bytes.NewReader(doc))
	return err
}

// exportDescriptors writes the loaded registry's descriptor set, or with a
// TAG the self-contained set for that tag's message type.
func exportDescriptors(w io.Writer, reg *keelson.Registry, args []string) error {
	if len(args) == 0 {
		return writeSet(w, reg.DescriptorSet())
	}

	entry, err := reg.Lookup(args[0])
	if err != nil {
		return err
	}
	if entry.Encoding != keelson.EncodingProtobuf {
		return fmt.Errorf("tag %q has %s encoding, no descriptors", entry.Name, entry.Encoding)
	}
	set, err := reg.FileDescriptorSet(entry.Description)
	if err != nil {
		return err
	}
	return writeSet(w, set)
}

func writeSet(w io.Writer, set *descriptorpb.FileDescriptorSet) error {
	b, err := proto.MarshalOptions{Deterministic: true}.Marshal(set)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(w, `keelson-codec: enclose and uncover keelson envelopes.

Reads the value from stdin and writes the result to stdout.

Usage:
  keelson-codec [flags] COMMAND [TAG]

Commands:
  %s TAG
  %s TAG
  %s TAG
  %s
  %s
  %s
  list-tags
  export-tags
  export-descriptors [TAG]

Flags:
`,
		keelson.EntrypointEncloseFromText,
		keelson.EntrypointEncloseFromBase64,
		keelson.EntrypointEncloseFromJSON,
		keelson.EntrypointUncoverToText,
		keelson.EntrypointUncoverToBase64,
		keelson.EntrypointUncoverToJSON,
	)
	flagSet.PrintDefaults()
}
