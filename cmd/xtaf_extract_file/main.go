package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"github.com/spf13/afero"

	"github.com/dsoprea/go-xtaf"
)

type rootParameters struct {
	FilesystemFilepath string  `short:"f" long:"filesystem-filepath" description:"File-path of disk image or XTAF partition" required:"true"`
	ConfigFilepath     string  `short:"c" long:"config" description:"YAML file with mount options"`
	StartOffset        *uint64 `long:"offset" description:"Offset of the superblock (skips probing)"`
	ExtractFilepath    string  `short:"e" long:"extract-filepath" description:"File-path to extract (use forward slashes; deleted entries are prefixed with '~')" required:"true"`
	OutputFilepath     string  `short:"o" long:"output-filepath" description:"File-path to write to ('-' for STDOUT; a directory if recursive)" required:"true"`
	IsRecursive        bool    `short:"r" long:"recursive" description:"Extract a directory and everything below it"`
	IncludeDeleted     bool    `long:"include-deleted" description:"Also extract deleted entries when recursive"`
	IsVerbose          bool    `short:"v" long:"verbose" description:"Print logging"`
}

var (
	rootArguments = new(rootParameters)
)

func loadOptions() *xtaf.MountOptions {
	if rootArguments.ConfigFilepath == "" {
		return xtaf.DefaultMountOptions()
	}

	f, err := os.Open(rootArguments.ConfigFilepath)
	log.PanicIf(err)

	defer f.Close()

	options, err := xtaf.LoadMountOptions(f)
	log.PanicIf(err)

	return options
}

func main() {
	defer func() {
		if state := recover(); state != nil {
			err := log.Wrap(state.(error))
			log.PrintError(err)
			os.Exit(-1)
		}
	}()

	p := flags.NewParser(rootArguments, flags.Default)

	_, err := p.Parse()
	if err != nil {
		os.Exit(1)
	}

	if rootArguments.IsVerbose == true {
		cla := log.NewConsoleLogAdapter()
		log.AddAdapter("console", cla)

		scp := log.NewStaticConfigurationProvider()
		scp.SetLevelName(log.LevelNameDebug)

		log.LoadConfiguration(scp)
	}

	options := loadOptions()

	if rootArguments.StartOffset != nil {
		options.StartOffset = rootArguments.StartOffset
	}

	f, err := os.Open(rootArguments.FilesystemFilepath)
	log.PanicIf(err)

	defer f.Close()

	sbs, err := xtaf.NewSeekerByteSource(f, options.ThreadSafe)
	log.PanicIf(err)

	xr := xtaf.NewXtafReader(sbs, options)

	err = xr.Parse()
	if err == xtaf.ErrVolumeNotFound {
		fmt.Printf("No volume found.\n")
		os.Exit(2)
	}

	log.PanicIf(err)

	tree := xtaf.NewTree(xr)

	if rootArguments.IsRecursive == true {
		extracted, err := xtaf.ExtractTree(tree, rootArguments.ExtractFilepath, afero.NewOsFs(), rootArguments.OutputFilepath, rootArguments.IncludeDeleted)
		if err == xtaf.ErrNotFound {
			fmt.Printf("File not found.\n")
			os.Exit(2)
		}

		log.PanicIf(err)

		fmt.Printf("(%d) entries extracted.\n", len(extracted))

		return
	}

	nr, err := tree.Open(rootArguments.ExtractFilepath)
	if err == xtaf.ErrNotFound {
		fmt.Printf("File not found.\n")
		os.Exit(2)
	}

	log.PanicIf(err)

	if nr.Node().IsDirectory() == true {
		fmt.Printf("Path is a directory. Use --recursive.\n")
		os.Exit(3)
	}

	var g *os.File

	if rootArguments.OutputFilepath == "-" {
		g = os.Stdout
	} else {
		var err error

		g, err = os.Create(rootArguments.OutputFilepath)
		log.PanicIf(err)

		defer func() {
			g.Close()
		}()
	}

	n, err := io.Copy(g, nr)
	log.PanicIf(err)

	if rootArguments.OutputFilepath != "-" {
		fmt.Printf("(%d) bytes written [%s].\n", n, humanize.Bytes(uint64(n)))

		if n < nr.Size() {
			fmt.Printf("The file is (%d) bytes but only (%d) could be recovered.\n", nr.Size(), n)
		}
	}
}
