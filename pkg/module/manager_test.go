package module_test

import (
	"errors"
	"reflect"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chazu/neuron/pkg/graph"
	"github.com/chazu/neuron/pkg/module"
)

// use calls m.Use and returns what the callback received
func use(m *module.Manager, id string) (any, error) {
	var (
		got    any
		gotErr error
		called bool
	)
	Expect(m.Use(id, func(v any, err error) {
		got, gotErr, called = v, err, true
	})).To(Succeed())
	Expect(called).To(BeTrue(), "callback for %s was not called", id)
	return got, gotErr
}

// sameMap reports whether a and b hold the same map
func sameMap(a, b any) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}

var mod = module.LocatorFunc(func(id string) string {
	return "mod/" + strings.Replace(id, "@", "/", 1)
})

// laterLoader hands modules over only once they get defined
type laterLoader struct{}

func (laterLoader) MarkForLoading(*module.Instance) {}

func (laterLoader) OnReady(inst *module.Instance, cb func()) {
	inst.Loading().Wait(cb)
}

var _ = Describe("Manager", func() {
	var m *module.Manager

	BeforeEach(func() {
		m = module.NewManager(module.Options{Locator: mod})
	})

	Context("with cyclic dependencies", func() {
		var countA, countIndex int

		BeforeEach(func() {
			countA, countIndex = 0, 0

			Expect(m.Define("cyclic@1.1.0/a.js", func(require *module.Require, exports module.Exports, self *module.Instance, _, _ string) error {
				countA++
				main, err := require.Require("./")
				if err != nil {
					return err
				}
				self.Exports = main
				main.(module.Exports)["a"] = true
				return nil
			}, module.DefineOptions{
				Map:  map[string]string{"./": "cyclic@1.1.0/index.js"},
				Deps: []string{"cyclic@1.1.0/index.js"},
			})).To(Succeed())

			Expect(m.Define("cyclic@1.1.0/index.js", func(require *module.Require, exports module.Exports, self *module.Instance, _, _ string) error {
				countIndex++
				exports["one"] = 1
				a, err := require.Require("./a")
				if err != nil {
					return err
				}
				self.Exports = module.Exports{"a": a}
				return nil
			}, module.DefineOptions{
				Main: true,
				Map:  map[string]string{"./a": "cyclic@1.1.0/a.js"},
				Deps: []string{"cyclic@1.1.0/a.js"},
			})).To(Succeed())
		})

		It("should run each factory once", func() {
			_, err := use(m, "cyclic@1.1.0")
			Expect(err).NotTo(HaveOccurred())
			_, err = use(m, "cyclic@1.1.0")
			Expect(err).NotTo(HaveOccurred())

			Expect(countA).To(Equal(1))
			Expect(countIndex).To(Equal(1))
		})

		It("should keep the exports captured before reassignment", func() {
			got, err := use(m, "cyclic@1.1.0")
			Expect(err).NotTo(HaveOccurred())

			exports, ok := got.(module.Exports)
			Expect(ok).To(BeTrue())
			Expect(exports["a"]).To(Equal(module.Exports{"one": 1, "a": true}))
			Expect(exports).NotTo(HaveKey("one"))
		})
	})

	Context("with a diamond in the resolution graph", func() {
		var eInits int

		define := func(id string, versions map[string]string, factory module.Factory) {
			deps := make([]string, 0, len(versions))
			for name := range versions {
				deps = append(deps, name)
			}
			Expect(m.Define(id, factory, module.DefineOptions{Versions: versions, Deps: deps})).To(Succeed())
		}

		// requireAll exports every dependency under its name
		requireAll := func(names ...string) module.Factory {
			return func(require *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				for _, name := range names {
					v, err := require.Require(name)
					if err != nil {
						return err
					}
					exports[name] = v
				}
				return nil
			}
		}

		version := func(v string) module.Factory {
			return func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				exports["version"] = v
				return nil
			}
		}

		BeforeEach(func() {
			eInits = 0
			m = module.NewManager(module.Options{
				Locator: mod,
				Graph: &graph.Graph{
					Root: map[string]string{"a@*": "a1"},
					Nodes: map[string]graph.Node{
						"a1": {Version: "1.0.0", Deps: map[string]string{"b@^1.0.0": "b1", "c@^1.0.0": "c1"}},
						"b1": {Version: "1.2.0", Deps: map[string]string{"d@^1.0.0": "d1", "e@^1.0.0": "e1"}},
						"c1": {Version: "1.0.3", Deps: map[string]string{"d@^2.0.0": "d2", "e@^1.0.0": "e1"}},
						"d1": {Version: "1.0.0"},
						"d2": {Version: "2.1.0"},
						"e1": {Version: "1.1.0"},
					},
				},
			})

			define("a@1.0.0", map[string]string{"b": "^1.0.0", "c": "^1.0.0"}, requireAll("b", "c"))
			define("b@1.2.0", map[string]string{"d": "^1.0.0", "e": "^1.0.0"}, requireAll("d", "e"))
			define("c@1.0.3", map[string]string{"d": "^2.0.0", "e": "^1.0.0"}, requireAll("d", "e"))
			define("d@1.0.0", nil, version("1.0.0"))
			define("d@2.1.0", nil, version("2.1.0"))
			define("e@1.1.0", nil, func(_ *module.Require, exports module.Exports, self *module.Instance, _, _ string) error {
				eInits++
				exports["guid"] = self.GUID
				return nil
			})
		})

		It("should give each subgraph its own version of d", func() {
			got, err := use(m, "a")
			Expect(err).NotTo(HaveOccurred())

			a := got.(module.Exports)
			b := a["b"].(module.Exports)
			c := a["c"].(module.Exports)
			Expect(b["d"]).To(Equal(module.Exports{"version": "1.0.0"}))
			Expect(c["d"]).To(Equal(module.Exports{"version": "2.1.0"}))
		})

		It("should share e between b and c", func() {
			got, err := use(m, "a")
			Expect(err).NotTo(HaveOccurred())

			a := got.(module.Exports)
			b := a["b"].(module.Exports)
			c := a["c"].(module.Exports)
			Expect(eInits).To(Equal(1))
			Expect(sameMap(b["e"], c["e"])).To(BeTrue())
		})

		It("should resolve the facade request through the root table", func() {
			resolved, err := m.Resolve("a", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved.ID.FullID()).To(Equal("a@1.0.0"))
			Expect(resolved.Graph.ID).To(Equal("a1"))
		})
	})

	Context("with several modules of one package", func() {
		var utilInits int

		BeforeEach(func() {
			utilInits = 0

			Expect(m.Define("p@1.0.0/util.js", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				utilInits++
				exports["n"] = utilInits
				return nil
			}, module.DefineOptions{})).To(Succeed())

			Expect(m.Define("p@1.0.0/lib/x.js", func(require *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				util, err := require.Require("../util")
				exports["util"] = util
				return err
			}, module.DefineOptions{Deps: []string{"p@1.0.0/util.js"}})).To(Succeed())

			Expect(m.Define("p@1.0.0", func(require *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				util, err := require.Require("./util")
				if err != nil {
					return err
				}
				x, err := require.Require("./lib/x")
				if err != nil {
					return err
				}
				exports["util"] = util
				exports["x"] = x
				return nil
			}, module.DefineOptions{Deps: []string{"p@1.0.0/util.js", "p@1.0.0/lib/x.js"}})).To(Succeed())
		})

		It("should share a single instance of a module path", func() {
			got, err := use(m, "p@1.0.0")
			Expect(err).NotTo(HaveOccurred())

			p := got.(module.Exports)
			x := p["x"].(module.Exports)
			Expect(utilInits).To(Equal(1))
			Expect(sameMap(x["util"], p["util"])).To(BeTrue())
		})

		It("should be idempotent", func() {
			first, err := m.Instance("p@1.0.0/util.js", nil, false)
			Expect(err).NotTo(HaveOccurred())
			second, err := m.Instance("p@1.0.0/util.js", nil, false)
			Expect(err).NotTo(HaveOccurred())

			Expect(second).To(BeIdenticalTo(first))
			Expect(second.GUID).To(Equal(first.GUID))

			e1, err := m.ExportsOf(first)
			Expect(err).NotTo(HaveOccurred())
			e2, err := m.ExportsOf(second)
			Expect(err).NotTo(HaveOccurred())
			Expect(sameMap(e1, e2)).To(BeTrue())
			Expect(utilInits).To(Equal(1))
		})
	})

	Context("when a factory requires with a version", func() {
		It("should refuse the pinned identifier", func() {
			var requireErr, asyncErr error
			Expect(m.Define("pin@1.0.0", func(require *module.Require, _ module.Exports, _ *module.Instance, _, _ string) error {
				_, requireErr = require.Require("b@1.0.0")
				asyncErr = require.Async("b@1.0.0", func(any, error) {})
				return nil
			}, module.DefineOptions{})).To(Succeed())

			_, err := use(m, "pin@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(requireErr, module.ErrVersionPinForbidden)).To(BeTrue())
			Expect(errors.Is(asyncErr, module.ErrVersionPinForbidden)).To(BeTrue())
		})
	})

	Context("with deferred requests", func() {
		var (
			lazyCalled    bool
			foreignCalled bool
			asyncErr      error
			self          *module.Instance
		)

		BeforeEach(func() {
			lazyCalled, foreignCalled, asyncErr, self = false, false, nil, nil

			Expect(m.Define("b@1.0.0/inner.js", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				exports["inner"] = true
				return nil
			}, module.DefineOptions{})).To(Succeed())

			Expect(m.Define("app@1.0.0/lazy.js", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				exports["lazy"] = true
				return nil
			}, module.DefineOptions{})).To(Succeed())

			Expect(m.Define("app@1.0.0", func(require *module.Require, _ module.Exports, inst *module.Instance, _, _ string) error {
				self = inst
				if err := require.Async("b/inner.js", func(any, error) { foreignCalled = true }); err != nil {
					return err
				}
				return require.Async("./lazy", func(v any, err error) {
					lazyCalled = true
					asyncErr = err
					Expect(v).To(Equal(module.Exports{"lazy": true}))
				})
			}, module.DefineOptions{Map: map[string]string{}, Entries: []string{"app@1.0.0/lazy.js"}})).To(Succeed())
		})

		It("should load entries of the same package", func() {
			_, err := use(m, "app@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(lazyCalled).To(BeTrue())
			Expect(asyncErr).NotTo(HaveOccurred())

			lazy, err := m.Instance("./lazy.js", self, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(lazy.Async).To(BeTrue())
		})

		It("should silently refuse non-entry modules of other packages", func() {
			_, err := use(m, "app@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(foreignCalled).To(BeFalse())
		})

		It("should fail when no entry matches", func() {
			var missErr error
			Expect(m.Define("miss@1.0.0", func(require *module.Require, _ module.Exports, _ *module.Instance, _, _ string) error {
				missErr = require.Async("./missing", func(any, error) {
					Fail("callback for a missing entry must not run")
				})
				return nil
			}, module.DefineOptions{Map: map[string]string{}, Entries: []string{}})).To(Succeed())

			_, err := use(m, "miss@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(missErr, module.ErrModuleNotFound)).To(BeTrue())
		})
	})

	Context("with a main entry defined after the package was requested", func() {
		It("should initialize the main entry at its own path", func() {
			placeholder, err := m.Instance("a@1.0.0", nil, false)
			Expect(err).NotTo(HaveOccurred())

			Expect(m.Define("a@1.0.0/lib/util.js", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				exports["util"] = true
				return nil
			}, module.DefineOptions{})).To(Succeed())

			var self *module.Instance
			var filename string
			Expect(m.Define("a@1.0.0/lib/index.js", func(require *module.Require, exports module.Exports, inst *module.Instance, f, _ string) error {
				self, filename = inst, f
				util, err := require.Require("./util")
				exports["util"] = util
				return err
			}, module.DefineOptions{Main: true, Deps: []string{"./util"}})).To(Succeed())

			got, err := use(m, "a@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(module.Exports{"util": module.Exports{"util": true}}))
			Expect(self).To(BeIdenticalTo(placeholder))
			Expect(self.ID).To(Equal("a@1.0.0/lib/index.js"))
			Expect(self.Path).To(Equal("/lib/index.js"))
			Expect(filename).To(Equal("mod/a/1.0.0/lib/index.js"))
		})
	})

	Context("with a loader that defines modules later", func() {
		var (
			got  map[string]any
			errs []error
		)

		record := func(name string) func(any, error) {
			return func(v any, err error) {
				got[name] = v
				if err != nil {
					errs = append(errs, err)
				}
			}
		}

		// requireDep exports the dependency dep under its name
		requireDep := func(dep string) module.Factory {
			return func(require *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				v, err := require.Require(dep)
				if err != nil {
					return err
				}
				exports[dep] = v
				return nil
			}
		}

		dependsOn := func(dep string) module.DefineOptions {
			return module.DefineOptions{
				Versions: map[string]string{dep: "1.0.0"},
				Deps:     []string{dep},
			}
		}

		BeforeEach(func() {
			got, errs = map[string]any{}, nil
			m = module.NewManager(module.Options{Locator: mod, Loader: laterLoader{}})
		})

		It("should wait for the dependencies of a shared dependency", func() {
			Expect(m.Use("x@1.0.0", record("x"))).To(Succeed())
			Expect(m.Use("w@1.0.0", record("w"))).To(Succeed())

			Expect(m.Define("x@1.0.0", requireDep("y"), dependsOn("y"))).To(Succeed())
			Expect(m.Define("w@1.0.0", requireDep("y"), dependsOn("y"))).To(Succeed())
			Expect(m.Define("y@1.0.0", requireDep("z"), dependsOn("z"))).To(Succeed())
			Expect(got).To(BeEmpty())

			y, err := m.Instance("y@1.0.0", nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(y.Settled()).To(BeFalse())
			Expect(y.Loaded).To(BeFalse())

			Expect(m.Define("z@1.0.0", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				exports["z"] = true
				return nil
			}, module.DefineOptions{})).To(Succeed())

			Expect(errs).To(BeEmpty())
			Expect(got).To(HaveKey("x"))
			Expect(got).To(HaveKey("w"))

			fromX := got["x"].(module.Exports)["y"]
			Expect(fromX).To(Equal(module.Exports{"z": module.Exports{"z": true}}))
			Expect(sameMap(got["w"].(module.Exports)["y"], fromX)).To(BeTrue())
		})

		It("should settle a cycle whose members were requested separately", func() {
			Expect(m.Use("p@1.0.0", record("p"))).To(Succeed())
			Expect(m.Use("q@1.0.0", record("q"))).To(Succeed())

			Expect(m.Define("q@1.0.0", requireDep("p"), dependsOn("p"))).To(Succeed())
			Expect(got).To(BeEmpty())
			Expect(m.Define("p@1.0.0", requireDep("q"), dependsOn("q"))).To(Succeed())

			Expect(errs).To(BeEmpty())
			Expect(got).To(HaveKey("p"))
			Expect(got).To(HaveKey("q"))
		})
	})

	Context("when resolving file URLs", func() {
		var resolved map[string]string

		BeforeEach(func() {
			resolved = map[string]string{}
			m = module.NewManager(module.Options{
				Locator: mod,
				Graph: &graph.Graph{
					Root:  map[string]string{"range@*": "range0"},
					Nodes: map[string]graph.Node{"range0": {Version: "0.0.0"}},
				},
				Hashes: module.HashTable{
					"range@0.0.0": {"range.js": "bea6bd50"},
				},
			})

			Expect(m.Define("range@0.0.0", func(require *module.Require, _ module.Exports, _ *module.Instance, _, _ string) error {
				for _, p := range []string{"./range.js", "./img/logo.png", "../outside.js", "range"} {
					if url, ok := require.Resolve(p); ok {
						resolved[p] = url
					}
				}
				return nil
			}, module.DefineOptions{})).To(Succeed())
		})

		It("should append the content hash", func() {
			_, err := use(m, "range")
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(HaveKeyWithValue("./range.js", "mod/range/0.0.0/range_bea6bd50.js"))
		})

		It("should leave unhashed files alone", func() {
			_, err := use(m, "range")
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).To(HaveKeyWithValue("./img/logo.png", "mod/range/0.0.0/img/logo.png"))
		})

		It("should refuse paths outside the package and package names", func() {
			_, err := use(m, "range")
			Expect(err).NotTo(HaveOccurred())
			Expect(resolved).NotTo(HaveKey("../outside.js"))
			Expect(resolved).NotTo(HaveKey("range"))
		})
	})

	Context("when initialization fails", func() {
		It("should report the factory error and stay loaded", func() {
			boom := errors.New("boom")
			calls := 0
			Expect(m.Define("bad@1.0.0", func(*module.Require, module.Exports, *module.Instance, string, string) error {
				calls++
				return boom
			}, module.DefineOptions{})).To(Succeed())

			_, err := use(m, "bad@1.0.0")
			Expect(errors.Is(err, module.ErrInitializer)).To(BeTrue())
			Expect(errors.Is(err, boom)).To(BeTrue())

			var initErr *module.InitializerError
			Expect(errors.As(err, &initErr)).To(BeTrue())
			Expect(initErr.ID).To(Equal("bad@1.0.0"))

			_, err = use(m, "bad@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(calls).To(Equal(1))
		})

		It("should report modules that were never defined", func() {
			_, err := use(m, "ghost@1.0.0")
			Expect(errors.Is(err, module.ErrModuleNotFound)).To(BeTrue())

			inst, err := m.Instance("ghost@1.0.0", nil, true)
			Expect(err).NotTo(HaveOccurred())
			Expect(inst.Loaded).To(BeFalse())
		})

		It("should request a module again once it is defined", func() {
			_, err := use(m, "late@1.0.0")
			Expect(errors.Is(err, module.ErrModuleNotFound)).To(BeTrue())

			Expect(m.Define("late@1.0.0", func(_ *module.Require, exports module.Exports, _ *module.Instance, _, _ string) error {
				exports["late"] = true
				return nil
			}, module.DefineOptions{})).To(Succeed())

			got, err := use(m, "late@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(module.Exports{"late": true}))
		})
	})

	Context("when defining modules", func() {
		noop := func(*module.Require, module.Exports, *module.Instance, string, string) error { return nil }

		It("should refuse to redefine a module", func() {
			Expect(m.Define("twice@1.0.0", noop, module.DefineOptions{})).To(Succeed())
			err := m.Define("twice@1.0.0", noop, module.DefineOptions{})
			Expect(errors.Is(err, module.ErrAlreadyDefined)).To(BeTrue())
		})

		It("should reject malformed ids", func() {
			err := m.Define("", noop, module.DefineOptions{})
			Expect(errors.Is(err, module.ErrMalformedIdentifier)).To(BeTrue())
		})

		It("should pass the module location to the factory", func() {
			var filename, dirname string
			Expect(m.Define("loc@2.0.0/lib/x.js", func(_ *module.Require, _ module.Exports, _ *module.Instance, f, d string) error {
				filename, dirname = f, d
				return nil
			}, module.DefineOptions{})).To(Succeed())

			inst, err := m.Instance("loc@2.0.0/lib/x.js", nil, false)
			Expect(err).NotTo(HaveOccurred())
			_, err = m.ExportsOf(inst)
			Expect(err).NotTo(HaveOccurred())
			Expect(filename).To(Equal("mod/loc/2.0.0/lib/x.js"))
			Expect(dirname).To(Equal("mod/loc/2.0.0/lib"))
		})

		It("should give a location without a slash an empty dirname", func() {
			m = module.NewManager(module.Options{Locator: module.LocatorFunc(func(string) string {
				return "bundle.js"
			})})

			dirname := "unset"
			Expect(m.Define("flat@1.0.0", func(_ *module.Require, _ module.Exports, _ *module.Instance, _, d string) error {
				dirname = d
				return nil
			}, module.DefineOptions{})).To(Succeed())

			_, err := use(m, "flat@1.0.0")
			Expect(err).NotTo(HaveOccurred())
			Expect(dirname).To(BeEmpty())
		})

		It("should refuse relative requests from outside any module", func() {
			err := m.Use("./x", func(any, error) {
				Fail("callback must not run")
			})
			Expect(errors.Is(err, module.ErrModuleNotFound)).To(BeTrue())
		})
	})
})
