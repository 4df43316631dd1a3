package ipinfo

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/viper"

	"proxy-pool/pkg/models"
)

type IPInfoResponse struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	Anycast  bool   `json:"anycast"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Loc      string `json:"loc"`
	Org      string `json:"org"`
	Postal   string `json:"postal"`
	Timezone string `json:"timezone"`
}

func GetIPInfo(ip string) (IPInfoResponse, error) {
	url := fmt.Sprintf("https://ipinfo.io/%s?token=%s", ip, viper.GetString("ipinfo.token"))
	resp, err := http.Get(url)
	if err != nil {
		return IPInfoResponse{}, err
	}
	defer resp.Body.Close()

	var ipInfo IPInfoResponse
	err = json.NewDecoder(resp.Body).Decode(&ipInfo)
	if err != nil {
		return IPInfoResponse{}, err
	}

	return ipInfo, nil
}

// UpdateRecordWithIPInfo fills the record's region from a lookup result.
// Records that already carry a region from their source keep it.
func UpdateRecordWithIPInfo(record *models.ProxyRecord, ipInfo IPInfoResponse) {
	if record.GeographicRegion != "" {
		return
	}
	switch {
	case ipInfo.City != "" && ipInfo.Country != "":
		record.GeographicRegion = fmt.Sprintf("%s, %s", ipInfo.City, ipInfo.Country)
	case ipInfo.Country != "":
		record.GeographicRegion = ipInfo.Country
	case ipInfo.Region != "":
		record.GeographicRegion = ipInfo.Region
	}
}
