// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/524D/mzexport/internal/config"
	"github.com/524D/mzexport/internal/conversion"
	"github.com/524D/mzexport/internal/logging"
)

// Program name and version, appended to software list in mzML output
const progName = "mzExport"

var progVersion = `Unknown`

// Command line flags
var (
	inputFile        string
	outputDir        string
	outputFile       string
	formatName       string
	metadataName     string
	gzipOutput       bool
	noPeakPicking    bool
	noZlib           bool
	ignoreInstErrors bool
	ms1ModeName      string
	msnModeName      string
	msLevels         []int
	s3URL            string
	s3AccessKey      string
	s3SecretKey      string
	s3Bucket         string
	silent           bool
	verbose          bool
)

var rootCmd = &cobra.Command{
	Use:   "mzexport",
	Short: "Convert mass spectrometry scan data to open formats",
	Long: `mzExport converts instrument scan data to MGF, mzML, indexed mzML or
Parquet, with optional run metadata output in JSON or TXT. Output goes
to a local file or to an S3 compatible bucket.

Examples:
  # Convert to indexed mzML in the current directory
  mzexport -i run01.mzML.gz -o .

  # MGF with gzip compression plus a metadata snapshot
  mzexport -i run01.mzML -o ./out -f mgf -g -m json

  # Upload the converted spectra to an S3 compatible bucket
  mzexport -i run01.mzML -o ./out -u https://play.min.io -k KEY -t SECRET -n spectra`,
	Version:       progVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := buildConfig()
		if err != nil {
			return err
		}
		log := logging.New(cfg.Verbosity)
		return conversion.New(cfg, log).Run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVarP(&inputFile, "input", "i", "", "input file to convert (required)")
	f.StringVarP(&outputDir, "output", "o", "", "output directory, the file is named after the input")
	f.StringVarP(&outputFile, "output_file", "b", "", "explicit output file path")
	f.StringVarP(&formatName, "format", "f", "indexed_mzml", "spectrum format: mgf, mzml, indexed_mzml, parquet or none")
	f.StringVarP(&metadataName, "metadata", "m", "", "metadata format: json or txt")
	f.BoolVarP(&gzipOutput, "gzip", "g", false, "gzip the output file (ignored for indexed_mzml)")
	f.BoolVarP(&noPeakPicking, "no_peak_picking", "p", false, "write profile data for all MS levels")
	f.BoolVarP(&noZlib, "no_zlib_compression", "z", false, "write mzML peak arrays without zlib compression")
	f.BoolVarP(&ignoreInstErrors, "ignore_instrument_errors", "e", false, "skip scans with missing instrument data instead of aborting")
	f.StringVar(&ms1ModeName, "ms1_mode", "centroid", "MS1 peak representation: centroid or profile")
	f.StringVar(&msnModeName, "msn_mode", "centroid", "MSn peak representation: centroid or profile")
	f.IntSliceVarP(&msLevels, "ms_level", "L", nil, "only write spectra of these MS levels")
	f.StringVarP(&s3URL, "s3_url", "u", "", "S3 compatible endpoint URL for remote upload")
	f.StringVarP(&s3AccessKey, "s3_accesskeyid", "k", "", "S3 access key id")
	f.StringVarP(&s3SecretKey, "s3_secretaccesskey", "t", "", "S3 secret access key")
	f.StringVarP(&s3Bucket, "s3_bucketname", "n", "", "S3 bucket name")
	f.BoolVarP(&silent, "silent", "s", false, "only log errors")
	f.BoolVarP(&verbose, "verbose", "v", false, "log debug details")
	rootCmd.MarkFlagRequired("input")
}

// buildConfig maps the command line flags onto a validated run
// configuration.
func buildConfig() (*config.Config, error) {
	format, err := config.ParseFormat(formatName)
	if err != nil {
		return nil, err
	}
	metadata, err := config.ParseMetadataFormat(metadataName)
	if err != nil {
		return nil, err
	}
	ms1Mode, err := config.ParseSpectrumMode(ms1ModeName)
	if err != nil {
		return nil, err
	}
	msnMode, err := config.ParseSpectrumMode(msnModeName)
	if err != nil {
		return nil, err
	}
	cfg := &config.Config{
		SourcePath:             inputFile,
		OutputDirectory:        outputDir,
		OutputFile:             outputFile,
		Format:                 format,
		Metadata:               metadata,
		Gzip:                   gzipOutput,
		Ms1Mode:                ms1Mode,
		MsnMode:                msnMode,
		PeakPicking:            !noPeakPicking,
		ZlibCompression:        !noZlib,
		IgnoreInstrumentErrors: ignoreInstErrors,
		MSLevels:               msLevels,
		ToolName:               progName,
		ToolVersion:            progVersion,
	}
	switch {
	case silent:
		cfg.Verbosity = config.VerbositySilent
	case verbose:
		cfg.Verbosity = config.VerbosityVerbose
	}
	if s3URL != "" || s3AccessKey != "" || s3SecretKey != "" || s3Bucket != "" {
		cfg.Remote = &config.Remote{
			EndpointURL: s3URL,
			AccessKey:   s3AccessKey,
			SecretKey:   s3SecretKey,
			Bucket:      s3Bucket,
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", progName, err)
		os.Exit(1)
	}
}
