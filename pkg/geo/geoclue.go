package geo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/rubiojr/minaplatser/pkg/logger"
)

/*
GeoClue2 locator.

StartGeoClue makes sure a matching .desktop file exists (GeoClue refuses
clients whose DesktopId has no desktop entry with X-Geoclue-2-Client=true),
then keeps a client running on the system bus in the background, retrying
with backoff when the service is missing or access is denied. Every
Location property change becomes a Fix for watchers.
*/

const (
	geoService    = "org.freedesktop.GeoClue2"
	managerPath   = dbus.ObjectPath("/org/freedesktop/GeoClue2/Manager")
	managerIface  = "org.freedesktop.GeoClue2.Manager"
	clientIface   = "org.freedesktop.GeoClue2.Client"
	locationIface = "org.freedesktop.GeoClue2.Location"
	propsIface    = "org.freedesktop.DBus.Properties"
)

// DefaultFixTimeout bounds CurrentPosition when the caller sets no deadline.
const DefaultFixTimeout = 15 * time.Second

// GeoClue is a Locator backed by the GeoClue2 D-Bus service.
type GeoClue struct {
	*hub
	desktopID string
	cancel    context.CancelFunc
	done      chan struct{}
}

var _ Locator = (*GeoClue)(nil)

// StartGeoClue starts tracking until ctx is done or Stop is called.
func StartGeoClue(ctx context.Context, desktopID string) *GeoClue {
	if err := ensureDesktopFile(desktopID); err != nil {
		logger.Warn("geo: failed to ensure desktop file: %v", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	g := &GeoClue{hub: newHub(), desktopID: desktopID, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(g.done)
		g.run(ctx)
	}()
	return g
}

// Stop ends tracking and waits for the client to be released.
func (g *GeoClue) Stop() {
	g.cancel()
	<-g.done
}

// Last returns the latest fix, if any.
func (g *GeoClue) Last() (Fix, bool) { return g.lastFix() }

func (g *GeoClue) CurrentPosition(ctx context.Context) (Fix, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultFixTimeout)
		defer cancel()
	}
	return g.current(ctx)
}

func (g *GeoClue) Watch(onUpdate func(Fix), onError func(error)) func() {
	return g.watch(onUpdate, onError)
}

// ensureDesktopFile writes a minimal desktop file unless one exists.
func ensureDesktopFile(desktopID string) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}
	appsDir := filepath.Join(home, ".local", "share", "applications")
	if err := os.MkdirAll(appsDir, 0o755); err != nil {
		return err
	}
	dest := filepath.Join(appsDir, desktopID)
	if _, err := os.Stat(dest); err == nil {
		// keep user edits
		return nil
	}
	content := `[Desktop Entry]
Type=Application
Name=Mina Platser
Comment=Sparade platser på kartan (GeoClue client)
Exec=minaplatser
Icon=minaplatser
Terminal=false
Categories=Utility;Maps;
X-Geoclue-2-Client=true
X-Geoclue-2-Access-Fine=true
`
	return os.WriteFile(dest, []byte(content), 0o644)
}

type geoClient struct {
	path dbus.ObjectPath
	bus  *dbus.Conn
}

func (g *GeoClue) run(ctx context.Context) {
	const (
		maxInitialRetries = 5
		retryBaseDelay    = 2 * time.Second
		requestedAccuracy = uint32(8)  // exact
		distanceThreshold = uint32(10) // meters between updates
		timeThreshold     = uint32(5)  // seconds between updates
	)

	var attempt int
	for {
		if ctx.Err() != nil {
			return
		}
		err := func() error {
			cl, err := newGeoClueClient(g.desktopID, requestedAccuracy, distanceThreshold, timeThreshold)
			if err != nil {
				return err
			}
			defer cl.close()
			if err := cl.start(); err != nil {
				return err
			}
			attempt = 0
			if lp, err := cl.locationPath(); err == nil && lp != "" {
				g.readLocation(cl, lp)
			}
			return g.signalLoop(ctx, cl)
		}()
		if err == nil {
			return
		}
		g.fail(fmt.Errorf("%w: %v", ErrPositionUnavailable, err))
		attempt++
		delay := 30 * time.Second
		if attempt <= maxInitialRetries {
			delay = retryBaseDelay * time.Duration(attempt)
		}
		logger.Warn("geo: retrying after error (%v), attempt=%d delay=%s", err, attempt, delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return
		}
	}
}

func newGeoClueClient(desktopID string, acc, dist, sec uint32) (*geoClient, error) {
	bus, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, err
	}
	manager := bus.Object(geoService, managerPath)

	var clientPath dbus.ObjectPath
	if err := manager.Call(managerIface+".CreateClient", 0).Store(&clientPath); err != nil {
		bus.Close()
		return nil, err
	}
	clientObj := bus.Object(geoService, clientPath)
	setProp := func(name string, val interface{}) error {
		return clientObj.Call(propsIface+".Set", 0, clientIface, name, dbus.MakeVariant(val)).Err
	}
	if err := setProp("DesktopId", desktopID); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set DesktopId: %w", err)
	}
	if err := setProp("RequestedAccuracyLevel", acc); err != nil {
		bus.Close()
		return nil, fmt.Errorf("set accuracy: %w", err)
	}
	_ = setProp("DistanceThreshold", dist)
	_ = setProp("TimeThreshold", sec)

	return &geoClient{path: clientPath, bus: bus}, nil
}

func (c *geoClient) start() error {
	return c.bus.Object(geoService, c.path).Call(clientIface+".Start", 0).Err
}

func (c *geoClient) close() {
	_ = c.bus.Object(geoService, c.path).Call(clientIface+".Stop", 0)
	c.bus.Close()
}

func (c *geoClient) locationPath() (dbus.ObjectPath, error) {
	var variant dbus.Variant
	if err := c.bus.Object(geoService, c.path).Call(propsIface+".Get", 0, clientIface, "Location").Store(&variant); err != nil {
		return "", err
	}
	lp, _ := variant.Value().(dbus.ObjectPath)
	return lp, nil
}

func (g *GeoClue) signalLoop(ctx context.Context, c *geoClient) error {
	matchRule := fmt.Sprintf("type='signal',interface='%s',path='%s'", propsIface, c.path)
	if call := c.bus.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, matchRule); call.Err != nil {
		return call.Err
	}
	sigCh := make(chan *dbus.Signal, 10)
	c.bus.Signal(sigCh)
	defer c.bus.RemoveSignal(sigCh)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-sigCh:
			if !ok || sig == nil {
				return errors.New("dbus signal channel closed")
			}
			if lp, ok := changedLocation(sig, c.path); ok {
				g.readLocation(c, lp)
			}
		}
	}
}

// changedLocation extracts the new Location object path from a
// PropertiesChanged signal of the client.
func changedLocation(sig *dbus.Signal, client dbus.ObjectPath) (dbus.ObjectPath, bool) {
	if sig.Name != propsIface+".PropertiesChanged" || sig.Path != client || len(sig.Body) < 2 {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed["Location"]
	if !ok {
		return "", false
	}
	lp, ok := v.Value().(dbus.ObjectPath)
	return lp, ok && lp != "" && lp != "/"
}

func (g *GeoClue) readLocation(c *geoClient, locPath dbus.ObjectPath) {
	var props map[string]dbus.Variant
	if err := c.bus.Object(geoService, locPath).Call(propsIface+".GetAll", 0, locationIface).Store(&props); err != nil {
		logger.Debug("geo: reading %s: %v", locPath, err)
		return
	}
	fix, ok := fixFromProps(props)
	if !ok {
		return
	}
	logger.Debug("geo: fix %.6f,%.6f ±%.0fm", fix.Lat, fix.Lng, fix.Accuracy)
	g.publish(fix)
}

func fixFromProps(props map[string]dbus.Variant) (Fix, bool) {
	getF64 := func(key string) float64 {
		if v, ok := props[key]; ok {
			if f, ok := v.Value().(float64); ok {
				return f
			}
		}
		return 0
	}
	f := Fix{
		Lat:       getF64("Latitude"),
		Lng:       getF64("Longitude"),
		Accuracy:  getF64("Accuracy"),
		Altitude:  getF64("Altitude"),
		Timestamp: time.Now().UTC(),
	}
	if f.Lat == 0 && f.Lng == 0 {
		return Fix{}, false
	}
	// GeoClue reports -1.7976931348623157e+308 for unknown altitude
	if f.Altitude < -1e300 {
		f.Altitude = 0
	}
	return f, true
}
