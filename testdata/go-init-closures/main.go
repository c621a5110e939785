// Package main reaches code from several init functions and a closure.
package main

var config *Config

type Config struct {
	name string
}

type Logger struct {
	prefix string
}

func (l *Logger) setup() { l.prefix = config.name }

// rotate is never called.
func (l *Logger) rotate() { l.prefix = "" }

func setupConfig() {
	config = &Config{name: "init"}
}

func handle(msg string) int { return len(msg) }

// orphan is never called.
func orphan(msg string) int { return 0 }

func init() {
	setupConfig()
}

func init() {
	l := &Logger{}
	l.setup()
}

func main() {
	n := func(s string) int { return handle(s) * 2 }("x")
	if n > 0 {
		config.name = "done"
	}
}
