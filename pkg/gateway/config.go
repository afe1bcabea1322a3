// Copyright 2024-2026 Aiku AI

package gateway

import (
	_ "embed"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the gateway engine configuration.
type Config struct {
	// HistoryLimit caps the per-room history replayed to new joiners.
	HistoryLimit int `yaml:"history_limit"`
	// PresenceChunkSize is the number of membership presences sent to a
	// joiner before awaiting a transport drain.
	PresenceChunkSize int `yaml:"presence_chunk_size"`
	// DrainTimeoutMS bounds each drain wait. A timeout is logged and
	// pacing resumes, it never fails the join.
	DrainTimeoutMS int `yaml:"drain_timeout_ms"`
	// PendingJoinTimeoutSecs discards cached join requests whose remote
	// resolution never arrived.
	PendingJoinTimeoutSecs int `yaml:"pending_join_timeout_secs"`
	// NickTemplate renders the MUC nickname of a Matrix-side member.
	NickTemplate string `yaml:"nick_template"`

	nickTemplate *template.Template `yaml:"-"`
}

// NickParams holds the parameters for rendering the nickname template.
type NickParams struct {
	Displayname string
	UserID      string
}

const defaultNickTemplate = "{{ if .Displayname }}{{ .Displayname }}{{ else }}{{ .UserID }}{{ end }}"

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.PresenceChunkSize <= 0 {
		c.PresenceChunkSize = 100
	}
	if c.DrainTimeoutMS <= 0 {
		c.DrainTimeoutMS = 250
	}
	if c.PendingJoinTimeoutSecs <= 0 {
		c.PendingJoinTimeoutSecs = 300
	}
	tpl := c.NickTemplate
	if tpl == "" {
		tpl = defaultNickTemplate
	}
	var err error
	c.nickTemplate, err = template.New("nick").Parse(tpl)
	return err
}

// DrainTimeout returns the drain budget as a duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutMS) * time.Millisecond
}

// PendingJoinTimeout returns the pending-join TTL as a duration.
func (c *Config) PendingJoinTimeout() time.Duration {
	return time.Duration(c.PendingJoinTimeoutSecs) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Int, "history_limit")
	helper.Copy(up.Int, "presence_chunk_size")
	helper.Copy(up.Int, "drain_timeout_ms")
	helper.Copy(up.Int, "pending_join_timeout_secs")
	helper.Copy(up.Str, "nick_template")
}

// GetConfig returns the example config and upgrader for the config layer.
func (c *Config) GetConfig() (example string, data any, upgrader up.Upgrader) {
	return ExampleConfig, c, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// FormatNick renders the MUC nickname for a Matrix-side member.
func (c *Config) FormatNick(params NickParams) string {
	if c.nickTemplate == nil {
		if params.Displayname != "" {
			return params.Displayname
		}
		return params.UserID
	}
	var buf []byte
	err := c.nickTemplate.Execute((*templateBuffer)(&buf), params)
	if err != nil || len(buf) == 0 {
		if params.Displayname != "" {
			return params.Displayname
		}
		return params.UserID
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}
