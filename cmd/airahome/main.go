package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/koding/multiconfig"
	"github.com/nergy-se/airahome/pkg/api/v1/config"
	"github.com/nergy-se/airahome/pkg/app"
	"github.com/nergy-se/airahome/pkg/version"
	"github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	defer stop()
	err := Run(ctx)
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func Run(ctx context.Context) error {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file found, using environment")
	}

	config := &config.CliConfig{}
	err := multiconfig.New().Load(config)
	if err != nil {
		return err
	}
	lvl, err := logrus.ParseLevel(config.LogLevel)
	if err != nil {
		return fmt.Errorf("error setting logrus loglevel: %w", err)
	}
	logrus.SetLevel(lvl)

	err = config.LoadPassword()
	if err != nil {
		return err
	}
	err = config.Validate()
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"device":    config.DeviceID,
		"transport": config.TransportType,
	}).Infof("starting airahome version %s", version.Version)

	app := app.New(config)

	err = app.Start(ctx)
	if err != nil {
		return err
	}

	app.Wait()
	return nil
}
