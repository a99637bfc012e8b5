// Copyright 2021 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// This file implements prompt for ksmd testability.

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/intel/ksmd/pkg/dedup"
)

type Cmd struct {
	description string
	Run         func([]string) commandStatus
}

type Prompt struct {
	r       *bufio.Reader
	w       *bufio.Writer
	f       *flag.FlagSet
	engine  *dedup.Engine
	watcher *dedup.ProcessWatcher
	cmds    map[string]Cmd
	ps1     string
	echo    bool
	quit    bool
}

type commandStatus int

const (
	csOk commandStatus = iota
	csErr
)

func NewPrompt(ps1 string, reader *bufio.Reader, writer *bufio.Writer) *Prompt {
	p := Prompt{
		r:   reader,
		w:   writer,
		ps1: ps1,
	}
	p.cmds = map[string]Cmd{
		"q":       {"quit interactive prompt.", p.cmdQuit},
		"engine":  {"create/start/stop the dedup engine.", p.cmdEngine},
		"config":  {"get/set engine configuration.", p.cmdConfig},
		"stats":   {"print statistics.", p.cmdStats},
		"watch":   {"watch PIDs for anonymous pages.", p.cmdWatch},
		"unmerge": {"break every stable COW mapping administratively.", p.cmdUnmerge},
		"dump":    {"dump engine state.", p.cmdDump},
		"help":    {"print help.", p.cmdHelp},
		"nop":     {"no operation.", p.cmdNop},
	}
	return &p
}

func (p *Prompt) output(format string, a ...interface{}) {
	if p.w == nil {
		return
	}
	p.w.WriteString(fmt.Sprintf(format, a...))
	p.w.Flush()
}

func (p *Prompt) Interact() {
	logger := log.New(p.w, "", log.Ltime|log.Lmicroseconds)
	dedup.SetLogger(logger)
	for !p.quit {
		p.output(p.ps1)
		rawcmd, err := p.r.ReadString(byte('\n'))
		if err != nil {
			p.output("quit: %s\n", err)
			break
		}
		if p.echo {
			p.output("%s", rawcmd)
		}
		// If command has "|", run the right-hand-side of the
		// pipe in a shell and pipe the output of the
		// left-hand-side cmd<Function> call to it.
		origOutputWriter := p.w
		pipeCmd := ""
		pipeIndex := strings.Index(rawcmd, "|")
		if pipeIndex > -1 {
			pipeCmd = rawcmd[pipeIndex+1:]
			rawcmd = rawcmd[:pipeIndex]
		}
		cmdSlice := strings.Split(strings.TrimSpace(rawcmd), " ")
		if len(cmdSlice) == 0 {
			continue
		}
		if cmdSlice[0] == "" {
			cmdSlice[0] = "nop"
		}
		p.f = flag.NewFlagSet(cmdSlice[0], flag.ContinueOnError)
		if cmd, ok := p.cmds[cmdSlice[0]]; ok {
			var pipeProcess *exec.Cmd = nil
			var pipeInput io.WriteCloser = nil
			if pipeCmd != "" {
				pipeProcess = exec.Command("sh", "-c", pipeCmd)
				pipeInput, err = pipeProcess.StdinPipe()
				if err != nil {
					p.output("failed to create pipe for command %q", pipeCmd)
					continue
				}
				pipeProcess.Stdout = origOutputWriter
				pipeProcess.Stderr = origOutputWriter
				if err := pipeProcess.Start(); err != nil {
					p.w = origOutputWriter
					p.output("failed to start: sh -c %q: %s", pipeCmd, err)
					pipeInput.Close()
					continue
				}
				p.w = bufio.NewWriter(pipeInput)
				logger.SetOutput(p.w)
			}
			cmd.Run(cmdSlice[1:])
			if pipeCmd != "" {
				p.w.Flush()
				pipeInput.Close()
				pipeProcess.Wait()
				p.w = origOutputWriter
				logger.SetOutput(origOutputWriter)
			}
		} else if len(cmdSlice[0]) > 0 {
			p.output("unknown command %q\n", cmdSlice[0])
		}
	}
	p.output("quit.\n")
}

func (p *Prompt) SetEcho(newEcho bool) {
	p.echo = newEcho
}

func (p *Prompt) SetEngine(engine *dedup.Engine) {
	p.engine = engine
}

func sortedStringKeys(m map[string]Cmd) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Prompt) cmdNop(args []string) commandStatus {
	return csOk
}

func (p *Prompt) cmdHelp(args []string) commandStatus {
	p.output("Available commands:\n")
	for _, name := range sortedStringKeys(p.cmds) {
		p.output("        %-12s %s\n", name, p.cmds[name].description)
	}
	p.output("Syntax:\n")
	p.output("        <command> -h show help on command options.\n")
	p.output("        [command] | <shell-command>\n")
	p.output("                     pipe command output to shell-command.\n")
	return csOk
}

func (p *Prompt) cmdEngine(args []string) commandStatus {
	create := p.f.Bool("create", false, "create a new engine with default config")
	adapter := p.f.String("adapter", "fake", "page adapter to use (fake, linux)")
	start := p.f.Bool("start", false, "start the scanner loop")
	stop := p.f.Bool("stop", false, "stop the scanner loop")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if *create {
		config := dedup.DefaultEngineConfig()
		config.Adapter = *adapter
		engine, err := dedup.NewEngine(config)
		if err != nil {
			p.output("creating engine failed: %s\n", err)
			return csOk
		}
		p.engine = engine
		p.output("engine created\n")
	}
	if p.engine == nil {
		p.output("no engine, create one with -create\n")
		return csOk
	}
	if *start {
		if err := p.engine.Start(); err != nil {
			p.output("start failed: %s\n", err)
			return csOk
		}
		p.output("engine started\n")
	}
	if *stop {
		p.engine.Stop()
		p.output("engine stopped\n")
	}
	return csOk
}

func (p *Prompt) cmdConfig(args []string) commandStatus {
	config := p.f.String("set", "", "reconfigure engine with JSON string")
	dumpJson := p.f.Bool("dump", false, "dump current configuration")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if p.engine == nil {
		p.output("no engine, use 'engine -create' first\n")
		return csOk
	}
	if *config != "" {
		if err := p.engine.SetConfigJson(*config); err != nil {
			p.output("configuration error: %v\n", err)
			return csOk
		}
	}
	if *dumpJson {
		p.output("%s\n", p.engine.GetConfigJson())
	}
	return csOk
}

func (p *Prompt) cmdStats(args []string) commandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if p.engine == nil {
		p.output("no engine, use 'engine -create' first\n")
		return csOk
	}
	snapshot := p.engine.Stats()
	p.output("pages_shared=%d pages_sharing=%d pages_unshared=%d pages_zero_sharing=%d stable_nodes=%d rmap_items=%d full_scans=%d\n",
		snapshot.PagesShared, snapshot.PagesSharing, snapshot.PagesUnshared,
		snapshot.PagesZeroSharing, snapshot.StableNodes, snapshot.RmapItems, snapshot.FullScans)
	return csOk
}

func (p *Prompt) cmdWatch(args []string) commandStatus {
	pids := p.f.String("pids", "", "comma separated PIDs to watch for anonymous pages")
	intervalMs := p.f.Int("interval-ms", 1000, "poll interval in milliseconds")
	stop := p.f.Bool("stop", false, "stop watching")
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if p.engine == nil {
		p.output("no engine, use 'engine -create' first\n")
		return csOk
	}
	if *stop {
		if p.watcher != nil {
			p.watcher.Stop()
			p.output("watcher stopped\n")
		}
		return csOk
	}
	if *pids == "" {
		p.output("missing -pids=PID[,PID...]\n")
		return csOk
	}
	var pidList []int
	for _, s := range strings.Split(*pids, ",") {
		pid, err := strconv.Atoi(s)
		if err != nil {
			p.output("invalid pid: %q\n", s)
			return csOk
		}
		pidList = append(pidList, pid)
	}
	minter := dedup.NewUnixPageAdapter()
	watcher := dedup.NewProcessWatcher(p.engine, minter)
	if err := watcher.SetConfigJson(fmt.Sprintf(`{"Pids":[%s],"IntervalMs":%d}`, *pids, *intervalMs)); err != nil {
		p.output("watcher configuration error: %s\n", err)
		return csOk
	}
	if err := watcher.Start(); err != nil {
		p.output("watcher start failed: %s\n", err)
		return csOk
	}
	p.watcher = watcher
	p.output("watching %d pids\n", len(pidList))
	return csOk
}

func (p *Prompt) cmdUnmerge(args []string) commandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if p.engine == nil {
		p.output("no engine, use 'engine -create' first\n")
		return csOk
	}
	if err := p.engine.Unmerge(); err != nil {
		p.output("unmerge reported errors: %s\n", err)
		return csOk
	}
	p.output("unmerge complete\n")
	return csOk
}

func (p *Prompt) cmdDump(args []string) commandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	if p.engine == nil {
		p.output("no engine, use 'engine -create' first\n")
		return csOk
	}
	p.output("%s\n", p.engine.Dump(p.f.Args()))
	return csOk
}

func (p *Prompt) cmdQuit(args []string) commandStatus {
	if err := p.f.Parse(args); err != nil {
		return csOk
	}
	p.quit = true
	return csOk
}
