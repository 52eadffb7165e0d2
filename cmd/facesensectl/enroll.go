package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"facesense/internal/app"
	"facesense/internal/geo"
	"facesense/internal/identity"
	"facesense/internal/recognition"
)

var enrollCmd = &cobra.Command{
	Use:   "enroll",
	Short: "Enroll every image in a directory for one identity",
	Long: `Enroll stores one face sample per image found in --dir. Images without a
detectable face are skipped and counted. The model is not retrained; run
"facesensectl train" afterwards.

Examples:
  facesensectl enroll --id 42 --dir ./captures/asha
  facesensectl enroll --id 42 --dir ./captures/asha --lat 12.9 --lon 77.5`,
	RunE: runEnroll,
}

func init() {
	enrollCmd.Flags().Int64("id", 0, "Identity id to enroll")
	enrollCmd.Flags().String("dir", "", "Directory of face images")
	enrollCmd.Flags().Float64("lat", 0, "Latitude recorded with the first sample")
	enrollCmd.Flags().Float64("lon", 0, "Longitude recorded with the first sample")
	_ = enrollCmd.MarkFlagRequired("id")
	_ = enrollCmd.MarkFlagRequired("dir")
	enrollCmd.MarkFlagsRequiredTogether("lat", "lon")
}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func runEnroll(cmd *cobra.Command, _ []string) error {
	id, _ := cmd.Flags().GetInt64("id")
	dir, _ := cmd.Flags().GetString("dir")
	var loc *identity.Location
	if cmd.Flags().Changed("lat") {
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		loc = &identity.Location{Point: geo.Point{Lat: lat, Lon: lon}}
	}

	files, err := imageFiles(dir)
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	if len(files) == 0 {
		return fmt.Errorf("no images in %s", dir)
	}

	ctx := context.Background()
	a, err := app.New(ctx, loadConfig())
	if err != nil {
		return err
	}
	defer a.Close()

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription(fmt.Sprintf("Enrolling %d", id)),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("images"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionFullWidth(),
	)

	var enrolled, noFace, failed int
	var last recognition.EnrollResult
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			failed++
			log.Printf("read %s: %v", path, err)
			_ = bar.Add(1)
			continue
		}
		res, err := a.Recognition.Enroll(ctx, id, raw, loc)
		switch {
		case errors.Is(err, recognition.ErrIdentityNotFound):
			_ = bar.Finish()
			return fmt.Errorf("identity %d: %w", id, err)
		case errors.Is(err, recognition.ErrNoFaceDetected):
			noFace++
		case err != nil:
			failed++
			log.Printf("enroll %s: %v", filepath.Base(path), err)
		default:
			enrolled++
			last = res
		}
		_ = bar.Add(1)
	}
	_ = bar.Finish()

	fmt.Printf("\nEnrolled %d, no face %d, failed %d", enrolled, noFace, failed)
	if enrolled > 0 {
		fmt.Printf(" (identity %d now has %d samples)", id, last.SampleIndex)
	}
	fmt.Println()
	if enrolled == 0 {
		return errors.New("no samples enrolled")
	}
	return nil
}
