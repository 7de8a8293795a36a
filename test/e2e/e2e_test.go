//go:build e2e
// +build e2e

/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package e2e

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const appManifest = `
name:    "app"
version: "1.2.0"
modules: {
	"": {
		main:    true
		factory: "app"
		versions: lib: "lib@^2.0.0"
		deps: ["lib"]
	}
	"lib/util.js": {
		factory: "app/util"
		map: {}
	}
}
hashes: "style.css": "5eed"
`

const libManifest = `
name:    "lib"
version: "2.1.0"
modules: "": {
	main:    true
	factory: "lib"
}
`

const configTemplate = `
path: "/mod"
graph: {
	name: "e2e"
	root: "app@^1.0.0": "app1"
	nodes: {
		app1:   {version: "1.2.0", deps: "lib@^2.0.0": "lib2"}
		lib2:   version: "2.1.0"
		orphan: version: "0.0.1"
	}
}
sources: [
	{type: "dir", ref: %q},
	{type: "http", ref: %q},
]
loader: retryBackoffBase: "10ms"
`

var _ = Describe("neuron CLI", Ordered, func() {
	var (
		server     *httptest.Server
		configPath string
	)

	// neuron runs the CLI against the suite configuration
	neuron := func(args ...string) (string, error) {
		cmd := exec.Command(binary, append([]string{"--config", configPath}, args...)...)
		return run(cmd)
	}

	BeforeAll(func() {
		By("serving lib over http")
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/lib/2.1.0/lib.cue" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(libManifest))
		}))

		By("laying out app in a package directory")
		packages := filepath.Join(workDir, "packages")
		Expect(os.MkdirAll(filepath.Join(packages, "app", "1.2.0", "lib"), 0755)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(packages, "app", "1.2.0", "app.cue"), []byte(appManifest), 0644)).To(Succeed())

		By("writing the configuration")
		configPath = filepath.Join(workDir, "neuron.cue")
		config := fmt.Sprintf(configTemplate, packages, server.URL)
		Expect(os.WriteFile(configPath, []byte(config), 0644)).To(Succeed())
	})

	AfterAll(func() {
		server.Close()
	})

	Context("graph", func() {
		It("should print a stable hash", func() {
			first, err := neuron("graph", "hash")
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.TrimSpace(first)).To(MatchRegexp("^[0-9a-f]+$"))

			second, err := neuron("graph", "hash")
			Expect(err).NotTo(HaveOccurred())
			Expect(second).To(Equal(first))

			output, err := neuron("graph", "hash", "--since", strings.TrimSpace(first))
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(ContainSubstring("\tunchanged"))
		})

		It("should warn about unreachable nodes", func() {
			output, err := neuron("graph", "lint")
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(ContainSubstring("nodes.orphan"))
			Expect(output).To(ContainSubstring("3 nodes, 1 warnings"))
		})

		It("should order dependents before their dependencies", func() {
			output, err := neuron("graph", "order")
			Expect(err).NotTo(HaveOccurred())
			Expect(strings.Index(output, "app1")).To(BeNumerically("<", strings.Index(output, "lib2")))
		})
	})

	Context("resolve", func() {
		It("should select the version pinned by the root table", func() {
			output, err := neuron("resolve", "app@^1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(MatchRegexp(`id:\s+app@1\.2\.0`))
			Expect(output).To(MatchRegexp(`graph:\s+app1`))
		})

		It("should resolve dependencies in the requiring module's subgraph", func() {
			output, err := neuron("resolve", "lib", "--from", "app@^1.0.0", "--fetch")
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(MatchRegexp(`id:\s+lib@2\.1\.0`))
			Expect(output).To(MatchRegexp(`graph:\s+lib2`))
		})

		It("should reject malformed identifiers", func() {
			_, err := neuron("resolve", "@")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("url", func() {
		It("should print module and package URLs", func() {
			output, err := neuron("url", "app@1.2.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(MatchRegexp(`module:\s+/mod/app/1\.2\.0\n`))
			Expect(output).To(MatchRegexp(`package:\s+/mod/app/1\.2\.0/app\.js`))
		})
	})

	Context("fetch", func() {
		It("should load a package and its dependencies from every source", func() {
			output, err := neuron("fetch", "app@^1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(MatchRegexp(`app@1\.2\.0\s+Defined\s+dir://\S+\s+app@1\.2\.0,app@1\.2\.0/lib/util\.js`))
			Expect(output).To(MatchRegexp(`lib@2\.1\.0\s+Defined\s+http://`))
		})

		It("should fail for packages no source has", func() {
			output, err := neuron("fetch", "missing@1.0.0")
			Expect(err).To(HaveOccurred())
			Expect(output).To(MatchRegexp(`missing@1\.0\.0\s+Error`))
			Expect(output).To(ContainSubstring("package not found"))
		})

		It("should dump metrics on request", func() {
			output, err := neuron("--metrics", "fetch", "app@^1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(output).To(ContainSubstring(`neuron_fetch_total{result="success",source="dir"} 1`))
			Expect(regexp.MustCompile(`neuron_packages_defined \d+`).FindString(output)).NotTo(BeEmpty())
		})
	})

	It("should refuse an invalid configuration", func() {
		broken := filepath.Join(workDir, "broken.cue")
		Expect(os.WriteFile(broken, []byte(`sources: [{type: "ftp"}]`), 0644)).To(Succeed())

		output, err := run(exec.Command(binary, "--config", broken, "fetch", "app@1.2.0"))
		Expect(err).To(HaveOccurred())
		Expect(output).To(ContainSubstring("invalid configuration"))
	})
})
