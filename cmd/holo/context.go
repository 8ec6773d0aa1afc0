package main

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"holo/internal/client"
	"holo/internal/config"
)

type commandContext struct {
	configFlag *string
	urlFlag    *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, urlFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		urlFlag:    urlFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

func (c *commandContext) jsonOutput() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) baseURL() string {
	if c.urlFlag != nil {
		if url := strings.TrimSpace(*c.urlFlag); url != "" {
			return url
		}
	}
	if cfg := c.configValue(); cfg != nil {
		return cfg.ClientURL()
	}
	return ""
}

func (c *commandContext) newClient() (*client.Client, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	return client.New(c.baseURL(),
		client.WithToken(cfg.API.Token),
		client.WithRecentJobs(client.NewRecentJobs(cfg.Client.RecentCachePath, nil)),
	), nil
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	cl, err := c.newClient()
	if err != nil {
		return err
	}
	return fn(cl)
}

// wrapClientError adds a hint when holod could not be reached.
func wrapClientError(err error, baseURL string) error {
	if err == nil {
		return nil
	}
	switch {
	case client.IsUnreachable(err):
		return fmt.Errorf("connect to holod at %s: %w; start it with `holo daemon start`", baseURL, err)
	case client.IsNotFound(err):
		return fmt.Errorf("%w; `holo list` shows known jobs", err)
	}
	return err
}

// skipConfigAnnotation marks commands that must run without a loadable config.
const skipConfigAnnotation = "holo/skip-config"

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations[skipConfigAnnotation] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
