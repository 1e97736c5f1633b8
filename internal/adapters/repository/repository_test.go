package repository_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/okian/skumatch/internal/adapters/repository"
	"github.com/okian/skumatch/internal/domain/matcherr"
	"github.com/okian/skumatch/internal/domain/model"
	"github.com/okian/skumatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

func catalog() []model.CatalogProduct {
	return []model.CatalogProduct{
		{SKU: "LEN-AC-3T-16S", Model: "XC16-036-230", Brand: "Lennox", Type: "AC", Tonnage: model.Float(3)},
		{SKU: "LEN-HP-2T-20S", Model: "XP20-024", Brand: "Lennox", Type: "HP", Tonnage: model.Float(2)},
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()

	Convey("Given an empty store", t, func() {
		s, err := repository.NewMemoryStore(ctx)
		So(err, ShouldBeNil)

		Convey("Then it reports no products", func() {
			So(s.Count(ctx), ShouldEqual, 0)
			So(s.Snapshot(ctx).Products, ShouldBeEmpty)
		})

		Convey("When replaced with nothing", func() {
			_, err := s.Replace(ctx, nil)

			Convey("Then ErrEmptyCatalog is returned", func() {
				So(err, ShouldEqual, repository.ErrEmptyCatalog)
			})
		})

		Convey("When replaced with duplicate SKUs", func() {
			dup := append(catalog(), catalog()[0])
			_, err := s.Replace(ctx, dup)

			Convey("Then the catalog is rejected as invalid", func() {
				So(matcherr.KindOf(err), ShouldEqual, matcherr.ValidationFailed)
				So(s.Count(ctx), ShouldEqual, 0)
			})
		})
	})

	Convey("Given a seeded store", t, func() {
		s, err := repository.NewMemoryStore(ctx, repository.WithProducts(catalog()))
		So(err, ShouldBeNil)
		snap := s.Snapshot(ctx)

		Convey("Then products and version are exposed", func() {
			So(s.Count(ctx), ShouldEqual, 2)
			So(snap.Version, ShouldEqual, repository.Version(catalog()))
		})

		Convey("Then lookups normalize the SKU", func() {
			p, err := s.Get(ctx, "len-hp-2t-20s")
			So(err, ShouldBeNil)
			So(p.Model, ShouldEqual, "XP20-024")

			_, err = s.Get(ctx, "NOPE")
			So(err, ShouldEqual, repository.ErrNotFound)
		})

		Convey("When the catalog changes", func() {
			next := catalog()[:1]
			version, err := s.Replace(ctx, next)
			So(err, ShouldBeNil)

			Convey("Then the version changes and old snapshots stay intact", func() {
				So(version, ShouldNotEqual, snap.Version)
				So(len(snap.Products), ShouldEqual, 2)
				So(s.Count(ctx), ShouldEqual, 1)
			})
		})

		Convey("When the caller mutates the slice it passed in", func() {
			in := catalog()
			_, err := s.Replace(ctx, in)
			So(err, ShouldBeNil)
			in[0].SKU = "CHANGED"

			Convey("Then the store is unaffected", func() {
				_, err := s.Get(ctx, "LEN-AC-3T-16S")
				So(err, ShouldBeNil)
			})
		})
	})

	Convey("Given concurrent readers and a writer", t, func() {
		s, _ := repository.NewMemoryStore(ctx, repository.WithProducts(catalog()))
		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 100 {
					snap := s.Snapshot(ctx)
					_ = len(snap.Products)
					_, _ = s.Get(ctx, "LEN-AC-3T-16S")
				}
			}()
		}
		for range 20 {
			_, _ = s.Replace(ctx, catalog())
		}
		wg.Wait()

		Convey("Then the store ends consistent", func() {
			So(s.Count(ctx), ShouldEqual, 2)
		})
	})
}

func TestLoadFile(t *testing.T) {
	Convey("Given catalog files on disk", t, func() {
		Convey("When loading YAML", func() {
			products, err := repository.LoadFile(filepath.Join("testdata", "catalog.yaml"))

			Convey("Then products and specs are decoded", func() {
				So(err, ShouldBeNil)
				So(products, ShouldHaveLength, 2)
				So(products[0].SKU, ShouldEqual, "LEN-AC-3T-16S")
				So(*products[0].Tonnage, ShouldEqual, 3)
				So(products[0].Refrigerant, ShouldEqual, "R-410A")
				So(*products[1].AFUE, ShouldEqual, 96)
			})
		})

		Convey("When loading JSON", func() {
			products, err := repository.LoadFile(filepath.Join("testdata", "catalog.json"))

			Convey("Then the same layout is accepted", func() {
				So(err, ShouldBeNil)
				So(products, ShouldHaveLength, 1)
				So(*products[0].HSPF, ShouldEqual, 10)
			})
		})

		Convey("When the file has no products", func() {
			_, err := repository.LoadFile(filepath.Join("testdata", "empty.yaml"))
			So(errors.Is(err, repository.ErrEmptyCatalog), ShouldBeTrue)
		})

		Convey("When the file is missing", func() {
			_, err := repository.LoadFile(filepath.Join("testdata", "missing.yaml"))
			So(errors.Is(err, repository.ErrLoadCatalog), ShouldBeTrue)
		})
	})
}
