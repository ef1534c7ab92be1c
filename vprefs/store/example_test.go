package store_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	internal "github.com/ZanzyTHEbar/virtual-prefs/vprefs"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/config"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store"
	"github.com/ZanzyTHEbar/virtual-prefs/vprefs/store/scheduler"
)

// Example wires configuration, a registry and the background scheduler the
// way an application would at startup.
func Example() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}

	logger := internal.GetLogger()
	reg := store.NewRegistry(append(store.OptionsFromConfig(cfg.Prefs), store.WithLogger(logger))...)

	sched := scheduler.New(reg,
		scheduler.WithInterval(cfg.Prefs.SyncInterval),
		scheduler.WithLogger(logger),
	)
	if err := sched.Start(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Error().Err(err).Msg("final flush failed")
		}
		_ = reg.Close()
	}()

	window, err := reg.Lookup(true, "/org/example/editor/window")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	_ = window.PutInt("width", 1280)
	fmt.Println(window.GetInt("width", 800))
}

func ExampleNode_Sync() {
	dir, err := os.MkdirTemp("", "vprefs-example")
	if err != nil {
		return
	}
	defer os.RemoveAll(dir)

	reg := store.NewRegistry(
		store.WithUserRoot(filepath.Join(dir, "user")),
		store.WithSystemRoot(filepath.Join(dir, "system"), ""),
	)
	defer reg.Close()

	root, err := reg.UserRoot()
	if err != nil {
		return
	}
	node, _ := root.Node("net/proxy")
	_ = node.Put("host", "proxy.example.com")
	_ = node.PutInt64("timeout_ms", (5 * time.Second).Milliseconds())

	if err := node.Sync(); err != nil {
		fmt.Println("sync failed:", err)
		return
	}

	other := store.NewRegistry(
		store.WithUserRoot(filepath.Join(dir, "user")),
		store.WithSystemRoot(filepath.Join(dir, "system"), ""),
	)
	defer other.Close()

	same, _ := other.Lookup(true, "/net/proxy")
	host, _, _ := same.Get("host")
	fmt.Println(host, same.GetInt64("timeout_ms", 0))
	// Output: proxy.example.com 5000
}
