package config

import (
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the config at path whenever the file changes and hands the result to onChange.
// Decode failures are logged and the previous configuration stays in effect.
func Watch(path string, log *zap.Logger, onChange func(*Config)) error {
	v := newViper(path)
	if err := readIfExists(v, path); err != nil {
		return err
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		log.Info("Configuration file changed, reloading", zap.String("file", e.Name))
		cfg, err := decode(v)
		if err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
			return
		}
		onChange(cfg)
	})
	v.WatchConfig()
	return nil
}
