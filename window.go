package main

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	qt "github.com/mappu/miqt/qt6"
	"github.com/mappu/miqt/qt6/mainthread"
	"github.com/mappu/miqt/qt6/qml"

	"github.com/rubiojr/minaplatser/pkg/logger"
)

//go:embed qml/MapView.qml
var mapViewQML []byte

const appID = "io.github.rubiojr.minaplatser"

// materializeQML writes the embedded window to dir and returns its path.
// The file is rewritten on every start so upgrades take effect.
func materializeQML(dir string) (string, error) {
	qmlDir := filepath.Join(dir, "qml")
	if err := ensureDir(qmlDir); err != nil {
		return "", err
	}
	path := filepath.Join(qmlDir, "MapView.qml")
	if err := os.WriteFile(path, mapViewQML, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// runWindow shows the map window and blocks until it is closed. The window
// talks to the API at apiBase. Must run on the main goroutine.
func runWindow(cacheDir, apiBase string) error {
	path, err := materializeQML(cacheDir)
	if err != nil {
		return fmt.Errorf("write window: %w", err)
	}

	// QML reads the API base from the application arguments.
	qtArgs := append(append([]string{}, os.Args[0]), "--api="+apiBase)
	qt.QCoreApplication_SetApplicationName(appID)
	qt.NewQApplication(qtArgs)
	engine := qml.NewQQmlApplicationEngine()

	engine.Load(qt.NewQUrl3("file://" + path))
	if len(engine.RootObjects()) == 0 {
		return fmt.Errorf("QML load failed: no root objects (check QML errors / Qt Location)")
	}
	logger.Debug("window: loaded %s, API at %s", path, apiBase)
	qt.QApplication_Exec()
	return nil
}

// quitWindow asks the Qt event loop to return. Safe from any goroutine.
func quitWindow() {
	mainthread.Start(func() {
		qt.QCoreApplication_Quit()
	})
}
