package ports

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"
)

// commonServices is the fallback when the platform services table does
// not know the port.
var commonServices = map[int]string{
	20:   "ftp-data",
	21:   "ftp",
	22:   "ssh",
	23:   "telnet",
	25:   "smtp",
	53:   "domain",
	80:   "http",
	110:  "pop3",
	139:  "netbios-ssn",
	143:  "imap",
	443:  "https",
	445:  "microsoft-ds",
	3306: "mysql",
	3389: "ms-wbt-server",
	8080: "http-proxy",
}

var loadPlatform = sync.OnceValue(func() map[int]string {
	f, err := os.Open("/etc/services")
	if err != nil {
		return nil
	}
	defer func() {
		_ = f.Close()
	}()

	ret := make(map[int]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line, _, _ := strings.Cut(scanner.Text(), "#")
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		number, proto, ok := strings.Cut(fields[1], "/")
		if !ok || proto != "tcp" {
			continue
		}
		port, err := strconv.Atoi(number)
		if err != nil {
			continue
		}
		// first entry wins, like getservbyport
		if _, ok := ret[port]; !ok {
			ret[port] = fields[0]
		}
	}
	return ret
})

// ServiceName guesses the service listening on a tcp port: the
// platform services table first, the builtin fallback second, empty
// string when neither knows.
func ServiceName(port int) string {
	if name, ok := loadPlatform()[port]; ok {
		return name
	}
	return commonServices[port]
}
