package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dsoprea/go-logging"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-xtaf"
)

type rootParameters struct {
	Filepath       string  `short:"f" long:"filepath" description:"File-path of disk image or XTAF partition" required:"true"`
	ConfigFilepath string  `short:"c" long:"config" description:"YAML file with mount options"`
	StartOffset    *uint64 `long:"offset" description:"Offset of the superblock (skips probing)"`
	RootPath       string  `short:"r" long:"root" description:"Only list below this path" default:"/"`
	FilenameFilter string  `short:"p" long:"pattern" description:"Filename filter"`
	ShowDetail     bool    `short:"d" long:"detail" description:"Show additional entry detail"`
	ShowHashes     bool    `long:"hash" description:"Calculate MD5 and SHA1 digests"`
	WriteCsv       bool    `long:"csv" description:"Print a CSV report instead"`
	IsVerbose      bool    `short:"v" long:"verbose" description:"Print logging"`
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

func printNode(tree *xtaf.Tree, node *xtaf.TreeNode) {
	if rootArguments.FilenameFilter != "" {
		isMatched, err := filepath.Match(rootArguments.FilenameFilter, node.Name())
		log.PanicIf(err)

		if isMatched != true {
			return
		}
	}

	de := node.Entry()

	if rootArguments.ShowDetail == true {
		fmt.Printf("## %s\n", node.Path())
		fmt.Printf("\n")

		de.Dump()

		if rootArguments.ShowHashes == true {
			p, err := tree.Provenance(node)
			log.PanicIf(err)

			p.Dump()
		}

		return
	}

	typePhrase := "-"
	if node.IsDirectory() == true {
		typePhrase = "d"
	}

	sizePhrase := humanize.Comma(int64(tree.LogicalSize(node)))

	modifiedPhrase := ""
	if modified := de.ModifiedTime(); modified.IsZero() == false {
		modifiedPhrase = modified.String()
	}

	if rootArguments.ShowHashes == true {
		p, err := tree.Provenance(node)
		log.PanicIf(err)

		md5Phrase := p.Md5
		if p.HashesOmitted == true {
			md5Phrase = "(omitted)"
		}

		fmt.Printf("%s %15s %30s %32s %s\n", typePhrase, sizePhrase, modifiedPhrase, md5Phrase, node.Path())
	} else {
		fmt.Printf("%s %15s %30s %s\n", typePhrase, sizePhrase, modifiedPhrase, node.Path())
	}
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

	f, err := os.Open(rootArguments.Filepath)
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

	if rootArguments.WriteCsv == true {
		r := xtaf.NewReporter(tree, rootArguments.ShowHashes)

		err := r.WriteCsv(os.Stdout, rootArguments.RootPath)
		if err == xtaf.ErrNotFound {
			fmt.Fprintf(os.Stderr, "Path not found.\n")
			os.Exit(2)
		}

		log.PanicIf(err)
	} else {
		tw, err := tree.Walk(rootArguments.RootPath)
		if err == xtaf.ErrNotFound {
			fmt.Printf("Path not found.\n")
			os.Exit(2)
		}

		log.PanicIf(err)

		for {
			node, ok, err := tw.Next()
			log.PanicIf(err)

			if ok == false {
				break
			}

			if node.IsRoot() == true {
				continue
			}

			printNode(tree, node)
		}
	}

	if err := tree.Problems(); err != nil {
		fmt.Fprintf(os.Stderr, "\nProblems:\n%s\n", err)
	}
}
