// Package model tracks the speech model catalog, the installed set and
// per-model download status, and guarantees a usable model before every
// dictation attempt.
package model

// CatalogEntry describes one downloadable speech model.
type CatalogEntry struct {
	ModelID     string `json:"model_id"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	Format      string `json:"format"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256"`
	License     string `json:"license"`
	DownloadURL string `json:"download_url"`
}

const catalogVersion = "whispercpp-ggml-main"

const downloadBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// DefaultCatalog lists the whisper.cpp GGML builds the app ships with.
// Sizes and checksums pin the exact artifacts; a mismatch quarantines the
// download on the backend side.
func DefaultCatalog() []CatalogEntry {
	rows := []struct {
		modelID string
		display string
		size    int64
		sha256  string
	}{
		{"tiny.en", "Whisper Tiny (English)", 77_704_715, "921e4cf8686fdd993dcd081a5da5b6c365bfde1162e72b08d75ac75289920b1f"},
		{"base.en", "Whisper Base (English)", 147_964_211, "a03779c86df3323075f5e796cb2ce5029f00ec8869eee3fdfb897afe36c6d002"},
		{"small.en", "Whisper Small (English)", 487_614_201, "c6138d6d58ecc8322097e0f987c32f1be8bb0a18532a3f88f734d1bbf9c41e5d"},
		{"medium.en", "Whisper Medium (English)", 1_533_774_781, "cc37e93478338ec7700281a7ac30a10128929eb8f427dda2e865faa8f6da4356"},
	}

	catalog := make([]CatalogEntry, 0, len(rows))
	for _, row := range rows {
		catalog = append(catalog, CatalogEntry{
			ModelID:     row.modelID,
			DisplayName: row.display,
			Version:     catalogVersion,
			Format:      "bin",
			SizeBytes:   row.size,
			SHA256:      row.sha256,
			License:     "MIT (whisper.cpp)",
			DownloadURL: downloadBaseURL + "/ggml-" + row.modelID + ".bin",
		})
	}
	return catalog
}

// FindEntry returns the catalog entry for modelID, if any.
func FindEntry(catalog []CatalogEntry, modelID string) (CatalogEntry, bool) {
	for _, entry := range catalog {
		if entry.ModelID == modelID {
			return entry, true
		}
	}
	return CatalogEntry{}, false
}
