package main

import (
	"bufio"
	"bytes"
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/crypto/ssh/terminal"
)

const soapProfile = "http://www.opengis.net/spec/WCS_protocol-binding_soap/1.0"

const envelopeTpl = `<?xml version="1.0" encoding="UTF-8"?>
<soap:Envelope xmlns:soap="http://www.w3.org/2003/05/soap-envelope">
  <soap:Body>
%s
  </soap:Body>
</soap:Envelope>`

const getCapabilities = `    <wcs:GetCapabilities xmlns:wcs="http://www.opengis.net/wcs/2.0" service="WCS">
      <ows:AcceptVersions xmlns:ows="http://www.opengis.net/ows/2.0"><ows:Version>2.0.1</ows:Version></ows:AcceptVersions>
    </wcs:GetCapabilities>`

const describeCoverage = `    <wcs:DescribeCoverage xmlns:wcs="http://www.opengis.net/wcs/2.0" service="WCS" version="2.0.1">
      <wcs:CoverageId>%s</wcs:CoverageId>
    </wcs:DescribeCoverage>`

const getMsVersion = `    <sopr:GetMsVersion xmlns:sopr="http://www.eoxserver.org/soap_proxy/wcsProxy"/>`

var passed string = "Passed"
var failed string = "Failed"

type concLimiter struct {
	sync.WaitGroup
	pool chan struct{}
}

func newConcLimiter(cLevel int) *concLimiter {
	return &concLimiter{pool: make(chan struct{}, cLevel)}
}

func (c *concLimiter) Increase() {
	c.Add(1)
	c.pool <- struct{}{}
}

func (c *concLimiter) Decrease() {
	<-c.pool
	c.Done()
}

func post(host, body string) (int, []byte) {
	resp, err := http.Post(fmt.Sprintf("http://%s/soap", host), "application/soap+xml; charset=utf-8",
		strings.NewReader(fmt.Sprintf(envelopeTpl, body)))
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	out, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}
	return resp.StatusCode, out
}

// Capabilities checks that the capabilities document advertises the
// SOAP binding.
func Capabilities(host string) bool {
	status, body := post(host, getCapabilities)
	if status != 200 {
		return false
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return false
	}
	for _, p := range doc.FindElements("//Profile") {
		if strings.TrimSpace(p.Text()) == soapProfile {
			return true
		}
	}
	return false
}

func MsVersion(host string) bool {
	status, body := post(host, getMsVersion)
	return status == 200 && bytes.Contains(body, []byte("MapServerVersion"))
}

func Describe(host, idList string, concLevel int) (bool, time.Duration) {
	out := true
	start := time.Now()
	f, err := os.Open(idList)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	var mu sync.Mutex
	conc := newConcLimiter(concLevel)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if len(id) == 0 {
			continue
		}
		conc.Increase()
		go func(id string) {
			defer conc.Decrease()
			status, body := post(host, fmt.Sprintf(describeCoverage, id))
			if status != 200 || !bytes.Contains(body, []byte("CoverageDescriptions")) {
				mu.Lock()
				out = false
				mu.Unlock()
			}
		}(id)
	}

	conc.Wait()

	return out, time.Since(start)
}

func inRed(str string) string {
	return fmt.Sprintf("\x1b[31;1m%s\x1b[0m", str)
}

func inGreen(str string) string {
	return fmt.Sprintf("\x1b[32;1m%s\x1b[0m", str)
}

func main() {
	host := flag.String("h", "localhost:8080", "SOAP proxy host name or address")
	suite := flag.String("s", "wcs", "Test suite [wcs, version]")
	ids := flag.String("ids", "coverage_ids.txt", "File listing one coverage id per line")
	conc := flag.Int("n", 6, "Concurrency level for acceptance tests")
	flag.Parse()

	var t time.Duration
	var ok bool

	if terminal.IsTerminal(int(os.Stdout.Fd())) {
		passed = inGreen(passed)
		failed = inRed(failed)
	}

	switch *suite {
	case "wcs":
		fmt.Printf("Testing SOAP GetCapabilities: ")
		if !Capabilities(*host) {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed)

		fmt.Printf("Testing SOAP DescribeCoverage: ")
		if ok, t = Describe(*host, *ids, *conc); !ok {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed, t)
	case "version":
		fmt.Printf("Testing SOAP GetMsVersion: ")
		if !MsVersion(*host) {
			fmt.Println(failed)
			os.Exit(1)
		}
		fmt.Println(passed)
	}
}
