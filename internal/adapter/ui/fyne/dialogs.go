package fyne

import (
	"log/slog"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/storage"
)

// backgroundExtensions are the files the background picker offers:
// images, plus audio files whose embedded album art is used.
var backgroundExtensions = []string{
	".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp",
	".mp3", ".m4a", ".flac", ".ogg",
}

// FileDialog is a helper for picking a background image file.
type FileDialog struct {
	window   fyne.Window
	callback func(string)
	logger   *slog.Logger
}

// NewFileDialog creates a new file dialog.
func NewFileDialog(window fyne.Window, callback func(string), logger *slog.Logger) *FileDialog {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileDialog{
		window:   window,
		callback: callback,
		logger:   logger,
	}
}

// Show displays the file dialog.
func (d *FileDialog) Show() {
	fd := dialog.NewFileOpen(func(reader fyne.URIReadCloser, err error) {
		if err != nil {
			d.logger.Error("file dialog error", slog.Any("error", err))
			return
		}
		if reader == nil {
			return // User cancelled
		}
		// the loader opens the file itself
		filePath := reader.URI().Path()
		_ = reader.Close()

		if d.callback != nil {
			d.callback(filePath)
		}
	}, d.window)
	fd.SetFilter(storage.NewExtensionFileFilter(backgroundExtensions))
	fd.Show()
}
