package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fzft/go-pingpong/client"
	"github.com/mattn/go-isatty"
	"github.com/peterh/liner"
)

var (
	CliHistFileEnv     = "PINGPONG_HISTFILE"
	CliHistFileDefault = ".pingpong_history"
)

func main() {
	var (
		host string
		port int
	)
	flag.StringVar(&host, "h", "127.0.0.1", "server hostname")
	flag.IntVar(&port, "p", 6567, "server port")
	flag.Parse()

	addr := fmt.Sprintf("%s:%d", host, port)
	c, err := client.Dial(addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer c.Close()

	// Piped input skips the prompt: every stdin line goes through the
	// server and its echo lands on stdout.
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		if err := pipeMode(c); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	repl(c, addr)
}

func pipeMode(c *client.Client) error {
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		reply, err := c.Echo(sc.Text())
		if err != nil {
			return err
		}
		fmt.Print(reply)
	}
	return sc.Err()
}

func repl(c *client.Client, addr string) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	histFile := historyPath()
	historyLoad(line, histFile)
	defer historySave(line, histFile)

	prompt := addr + "> "
	for {
		input, err := line.Prompt(prompt)
		if err == liner.ErrPromptAborted || err == io.EOF {
			return
		}
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return
		}

		switch strings.TrimSpace(input) {
		case "":
			continue
		case "quit", "exit":
			return
		}
		line.AppendHistory(input)

		reply, err := c.Echo(input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
			return
		}
		fmt.Print(reply)
	}
}

func historyPath() string {
	if p := os.Getenv(CliHistFileEnv); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return CliHistFileDefault
	}
	return filepath.Join(home, CliHistFileDefault)
}

func historyLoad(line *liner.State, filepath string) error {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return err
	}
	_, err = line.ReadHistory(bytes.NewReader(content))
	return err
}

func historySave(line *liner.State, filepath string) error {
	var buf bytes.Buffer
	if _, err := line.WriteHistory(&buf); err != nil {
		return err
	}
	return os.WriteFile(filepath, buf.Bytes(), 0644)
}
