package preparator

import (
	"os"
	"path/filepath"
)

// maybeSaveImage dumps an intermediate Mat when savePath names an existing
// directory. Float planes are written as TIFF by the native backend; the
// pure backend skips image dumps.
func maybeSaveImage(img Mat, savePath, filename string) {
	if savePath == "" {
		return
	}
	if _, err := os.Stat(savePath); os.IsNotExist(err) {
		return
	}
	imWriteMat(filepath.Join(savePath, filename), img)
}

func maybeSaveText(savePath, filename, text string) {
	if savePath == "" {
		return
	}
	if _, err := os.Stat(savePath); os.IsNotExist(err) {
		return
	}
	_ = os.WriteFile(filepath.Join(savePath, filename), []byte(text), 0644)
}
