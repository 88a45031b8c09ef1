package bids

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"connectomix/internal/errors"
)

// ResolveAtlas turns the configured atlas value into a parcellation
// image path. A value naming an existing file is used directly; a bare
// atlas name like schaefer2018n100 resolves to <name>.nii.gz or
// <name>.nii under atlasDir.
func ResolveAtlas(atlasDir, nameOrPath string) (string, error) {
	if fileExists(nameOrPath) {
		return nameOrPath, nil
	}
	if strings.ContainsRune(nameOrPath, os.PathSeparator) || strings.Contains(nameOrPath, ".nii") {
		return "", errors.New(errors.CodeNotFound, "atlas file not found: "+nameOrPath)
	}

	tried := make([]string, 0, 2)
	for _, ext := range []string{".nii.gz", ".nii"} {
		p := filepath.Join(atlasDir, nameOrPath+ext)
		if fileExists(p) {
			return p, nil
		}
		tried = append(tried, p)
	}
	return "", errors.New(errors.CodeNotFound,
		fmt.Sprintf("atlas %q not found, tried %s", nameOrPath, strings.Join(tried, ", ")))
}

// FindLabelTable locates the label table for a parcellation image.
// Search order next to the image: <basename>.tsv, <basename>.txt,
// <basename>.csv, then the generic labels.tsv, labels.txt, labels.csv.
// The second return is false when no table exists, in which case
// parcels get fallback names.
func FindLabelTable(imagePath string) (string, bool) {
	base := strings.TrimSuffix(imagePath, ".gz")
	base = strings.TrimSuffix(base, ".nii")
	dir := filepath.Dir(imagePath)

	candidates := []string{
		base + ".tsv",
		base + ".txt",
		base + ".csv",
		filepath.Join(dir, "labels.tsv"),
		filepath.Join(dir, "labels.txt"),
		filepath.Join(dir, "labels.csv"),
	}
	for _, c := range candidates {
		if fileExists(c) {
			return c, true
		}
	}
	return "", false
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
