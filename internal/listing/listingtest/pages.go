// Package listingtest renders pages in the tracked site's layout for tests.
package listingtest

import (
	"fmt"
	"strings"
)

// ListingPage renders a minimal listing page in the site's layout carrying the
// given pagination and offer hrefs.
func ListingPage(totalPages, currentPage int, hrefs ...string) string {
	var anchors strings.Builder
	for _, h := range hrefs {
		fmt.Fprintf(&anchors, `<li><a href="%s">offer</a></li>`, h)
	}
	return fmt.Sprintf(`<html><body>
<div id="__next">
<div data-sentry-element="MainLayoutWrapper"><main>
<div data-sentry-element="NegativeMainLayoutSpacer">
<div data-sentry-element="Content">
<div data-sentry-element="ListingViewContainer">
<div data-sentry-element="Container">
<div data-sentry-element="Content"><ul>%s</ul></div>
</div></div></div></div>
</main></div>
</div>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"data":{"searchAds":{"pagination":{"totalPages":%d,"itemsPerPage":36,"currentPage":%d}}}}}}</script>
</body></html>`, anchors.String(), totalPages, currentPage)
}

// DetailPage renders a minimal offer page with the given city and price.
func DetailPage(city, price string) string {
	return fmt.Sprintf(`<html><body><div>offer</div>
<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"ad":{
"location":{"address":{"city":{"name":%q},"postalCode":"67-200","street":{"name":"Polna","number":"5"}},
"coordinates":{"latitude":51.66,"longitude":16.08}},
"characteristics":[{"label":"Cena","value":%q,"localizedValue":"x"},{"label":"Liczba pokoi","value":"4","localizedValue":"4"}],
"featuresByCategory":[{"label":"Media","values":["prąd"]}],
"description":"Dom","advertiserType":"private",
"contactDetails":{"name":"Jan"},
"owner":{"id":7,"name":"Jan","type":"private","email":"hidden"},
"images":[{"large":"https://img/1.jpg"}]}}}}</script>
</body></html>`, city, price)
}
