package scan_test

import (
	"fmt"

	"github.com/cwbudde/algo-doas/doas/scan"
)

func ExampleQuality_String() {
	fmt.Println(scan.Quality(0))
	fmt.Println(scan.QualitySaturated | scan.QualityHighChiSquare)
	// Output:
	// ok
	// saturated|chi2
}
