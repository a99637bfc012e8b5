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

package main

import (
	"bufio"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/intel/ksmd/pkg/dedup"
)

// Config is the on-disk shape read by -config. Engine and Watcher hold
// their actual settings as embedded JSON strings, handed straight to
// SetConfigJson, the same indirection the teacher's own PolicyConfig/
// RoutineConfig use (memtier/policy.go) instead of giving yaml.v3 two
// struct tag vocabularies (yaml and json) to reconcile.
type Config struct {
	Adapter string
	Engine  string
	Watcher string
}

func exit(format string, a ...interface{}) {
	fmt.Fprintf(os.Stderr, fmt.Sprintf("ksmd: "+format+"\n", a...))
	os.Exit(1)
}

func loadConfigFile(filename string) (*dedup.Engine, *dedup.ProcessWatcher) {
	configBytes, err := ioutil.ReadFile(filename)
	if err != nil {
		exit("%s", err)
	}
	var fileConfig Config
	if err := yaml.Unmarshal(configBytes, &fileConfig); err != nil {
		exit("error in %q: %s", filename, err)
	}

	engineConfig := dedup.DefaultEngineConfig()
	if fileConfig.Adapter != "" {
		engineConfig.Adapter = fileConfig.Adapter
	}
	engine, err := dedup.NewEngine(engineConfig)
	if err != nil {
		exit("%s", err)
	}
	if fileConfig.Engine != "" {
		if err := engine.SetConfigJson(fileConfig.Engine); err != nil {
			exit("engine configuration error: %s", err)
		}
	}

	var watcher *dedup.ProcessWatcher
	if fileConfig.Watcher != "" {
		watcher = dedup.NewProcessWatcher(engine, dedup.NewUnixPageAdapter())
		if err := watcher.SetConfigJson(fileConfig.Watcher); err != nil {
			exit("watcher configuration error: %s", err)
		}
	}
	return engine, watcher
}

func serveMetrics(addr string, engine *dedup.Engine) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(dedup.NewCollector(engine))
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			dedup.SetLogger(log.New(os.Stderr, "", 0))
			exit("metrics server: %s", err)
		}
	}()
}

func main() {
	dedup.SetLogger(log.New(os.Stderr, "", 0))
	optPrompt := flag.Bool("prompt", false, "launch interactive prompt (ignore other parameters)")
	optConfig := flag.String("config", "", "launch non-interactive mode with config file")
	optConfigDumpJson := flag.Bool("config-dump-json", false, "dump effective configuration in JSON")
	optDebug := flag.Bool("debug", false, "print debug output")
	optMetricsAddr := flag.String("metrics-addr", "", "serve Prometheus metrics on ADDR (empty disables)")

	flag.Parse()
	dedup.SetLogDebug(*optDebug)

	if *optPrompt {
		prompt := NewPrompt("ksmd> ", bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout))
		prompt.Interact()
		return
	}

	var engine *dedup.Engine
	var watcher *dedup.ProcessWatcher
	if *optConfig != "" {
		engine, watcher = loadConfigFile(*optConfig)
	} else {
		exit("missing -prompt or -config")
	}

	if *optConfigDumpJson {
		fmt.Printf("%s\n", engine.GetConfigJson())
		os.Exit(0)
	}

	if *optMetricsAddr != "" {
		serveMetrics(*optMetricsAddr, engine)
	}

	if err := engine.Start(); err != nil {
		exit("error starting engine: %s", err)
	}
	if watcher != nil {
		if err := watcher.Start(); err != nil {
			exit("error starting watcher: %s", err)
		}
	}

	prompt := NewPrompt("ksmd> ", bufio.NewReader(os.Stdin), bufio.NewWriter(os.Stdout))
	if stdinFileInfo, _ := os.Stdin.Stat(); (stdinFileInfo.Mode() & os.ModeCharDevice) == 0 {
		// Input comes from a pipe.
		// Echo commands after prompt in the interaction to explain outputs.
		prompt.SetEcho(true)
	}
	prompt.SetEngine(engine)
	prompt.Interact()
}
