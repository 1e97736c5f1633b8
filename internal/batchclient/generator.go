package batchclient

import (
	"fmt"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/okian/skumatch/internal/domain/model"
)

var (
	brands       = []string{"Carrier", "Trane", "Lennox", "Goodman", "Rheem", "Daikin", "York"}
	productTypes = []string{"AC", "HP", "Furnace", "Air Handler"}
	refrigerants = []string{"R-410A", "R-454B", "R-32"}
	tonnages     = []float64{1.5, 2, 2.5, 3, 3.5, 4, 5}
)

// Generate returns n synthetic competitor products. Equal seeds give equal
// output; a zero seed is random.
func Generate(n int, seed int64) []model.CompetitorProduct {
	f := gofakeit.New(seed)
	out := make([]model.CompetitorProduct, n)
	for i := range out {
		out[i] = product(f)
	}
	return out
}

func product(f *gofakeit.Faker) model.CompetitorProduct {
	brand := f.RandomString(brands)
	kind := f.RandomString(productTypes)
	specs := &model.Specifications{ProductType: kind}

	var size string
	switch kind {
	case "Furnace":
		afue := f.Float64Range(80, 98)
		specs.AFUE = &afue
		size = f.Numerify("0##")
	default:
		tons := tonnages[f.Number(0, len(tonnages)-1)]
		seer := float64(f.Number(13, 22))
		specs.Tonnage = &tons
		specs.SEER = &seer
		specs.Refrigerant = f.RandomString(refrigerants)
		if kind == "HP" {
			hspf := f.Float64Range(8, 11)
			specs.HSPF = &hspf
		}
		size = fmt.Sprintf("%03.0f", tons*12)
	}

	prefix := strings.ToUpper(brand[:3])
	price := f.Price(900, 6500)
	return model.CompetitorProduct{
		SKU:            fmt.Sprintf("%s-%s-%s", prefix, strings.ToUpper(f.Lexify("??")), f.Numerify("####")),
		Company:        brand,
		Model:          strings.ToUpper(f.Lexify("??")) + size + "-" + f.Numerify("###"),
		Description:    fmt.Sprintf("%s %s %s", brand, kind, f.HipsterSentence(4)),
		Price:          &price,
		Specifications: specs,
	}
}
