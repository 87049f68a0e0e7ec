package main

import (
	"fmt"
	"os"

	"github.com/dsoprea/go-logging"
	"github.com/jessevdk/go-flags"

	"github.com/dsoprea/go-xtaf"
)

type rootParameters struct {
	Filepath       string  `short:"f" long:"filepath" description:"File-path of disk image or XTAF partition" required:"true"`
	ConfigFilepath string  `short:"c" long:"config" description:"YAML file with mount options"`
	StartOffset    *uint64 `long:"offset" description:"Offset of the superblock (skips probing)"`
	All            bool    `short:"a" long:"all" description:"Print every volume found at the probe offsets"`
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

	sbs, err := xtaf.NewSeekerByteSource(f, false)
	log.PanicIf(err)

	if rootArguments.All == false {
		xr := xtaf.NewXtafReader(sbs, options)

		err = xr.Parse()
		if err == xtaf.ErrVolumeNotFound {
			fmt.Printf("No volume found.\n")
			os.Exit(2)
		}

		log.PanicIf(err)

		xr.Dump()

		return
	}

	offsets, err := xtaf.FindVolumes(sbs, options.ProbeOffsets)
	log.PanicIf(err)

	if len(offsets) == 0 {
		fmt.Printf("No volumes found.\n")
		os.Exit(2)
	}

	for _, offset := range offsets {
		volumeOptions := *options

		start := offset
		volumeOptions.StartOffset = &start

		xr := xtaf.NewXtafReader(sbs, &volumeOptions)

		err := xr.Parse()
		if err == xtaf.ErrInvalidSuperblock {
			fmt.Printf("Volume at (0x%x) is not valid.\n", offset)
			fmt.Printf("\n")

			continue
		}

		log.PanicIf(err)

		xr.Dump()
	}
}
