package pds

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// MetadataKeys is the descriptive subset of a label written to sidecars.
// "IMAGE" is the ^IMAGE data pointer.
var MetadataKeys = []string{
	"PRODUCT_ID", "IMAGE", "LINES", "LINE_SAMPLES", "SAMPLE_TYPE", "SAMPLE_BITS",
	"START_TIME", "STOP_TIME", "SPACECRAFT_NAME", "INSTRUMENT_NAME",
	"MISSION_PHASE_NAME", "TARGET_NAME",
}

// CombinedFile is the name of the sidecar holding every record.
const CombinedFile = "combined_metadata.json"

// Metadata extracts MetadataKeys from l. Missing keys are omitted.
// FILE_NAME is always set to fileName.
func Metadata(l *Label, fileName string) map[string]string {
	m := make(map[string]string, len(MetadataKeys)+1)
	for _, k := range MetadataKeys {
		name := k
		if k == "IMAGE" {
			name = "^IMAGE"
		}
		if v, ok := l.Find(name); ok {
			m[k] = v
		}
	}
	m["FILE_NAME"] = fileName
	return m
}

// SidecarSummary reports a WriteSidecars run.
type SidecarSummary struct {
	Written  int
	Failures map[string]error // keyed by .IMG path
}

// WriteSidecars writes {name}.json for every .IMG file in rawDir and a
// combined_metadata.json array. A file whose label cannot be read is logged
// and counted; the rest are still written.
func WriteSidecars(rawDir, metaDir string) (SidecarSummary, error) {
	sum := SidecarSummary{Failures: make(map[string]error)}
	imgs, err := listIMG(rawDir)
	if err != nil {
		return sum, err
	}
	if err := os.MkdirAll(metaDir, 0o755); err != nil {
		return sum, fmt.Errorf("creating metadata dir: %w", err)
	}

	records := make([]map[string]string, 0, len(imgs))
	for _, p := range imgs {
		rec, err := writeSidecar(p, metaDir)
		if err != nil {
			log.Printf("Warning: metadata for %s: %v", filepath.Base(p), err)
			sum.Failures[p] = err
			continue
		}
		records = append(records, rec)
		sum.Written++
	}

	if err := writeJSON(filepath.Join(metaDir, CombinedFile), records); err != nil {
		return sum, fmt.Errorf("writing %s: %w", CombinedFile, err)
	}
	return sum, nil
}

func writeSidecar(imgPath, metaDir string) (map[string]string, error) {
	l, err := ReadLabel(imgPath)
	if err != nil {
		return nil, err
	}
	name := filepath.Base(imgPath)
	rec := Metadata(l, name)
	out := filepath.Join(metaDir, strings.TrimSuffix(name, filepath.Ext(name))+".json")
	return rec, writeJSON(out, rec)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// listIMG returns the .IMG files of dir (any case), sorted by name.
func listIMG(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".img") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}
