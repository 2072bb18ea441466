package providers

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"
)

const coingeckoDefaultBaseURL = "https://api.coingecko.com"

// coingeckoIDs maps common ticker symbols to coingecko identifiers.
// Unmapped symbols fall through as their lower-cased form.
var coingeckoIDs = map[string]string{
	"BTC": "bitcoin", "ETH": "ethereum", "ADA": "cardano", "DOT": "polkadot",
	"LINK": "chainlink", "LTC": "litecoin", "XRP": "ripple", "BCH": "bitcoin-cash",
	"BNB": "binancecoin", "SOL": "solana", "MATIC": "matic-network", "AVAX": "avalanche-2",
	"ATOM": "cosmos", "ALGO": "algorand", "XLM": "stellar", "VET": "vechain",
	"ICP": "internet-computer", "FIL": "filecoin", "TRX": "tron", "ETC": "ethereum-classic",
	"THETA": "theta-token", "XMR": "monero", "EOS": "eos", "AAVE": "aave",
	"MKR": "maker", "COMP": "compound-governance-token", "UNI": "uniswap", "SUSHI": "sushi",
	"YFI": "yearn-finance", "SNX": "havven", "CRV": "curve-dao-token", "1INCH": "1inch",
	"BAL": "balancer", "ZRX": "0x", "REN": "republic-protocol", "KNC": "kyber-network-crystal",
	"LRC": "loopring", "BAND": "band-protocol", "STORJ": "storj", "BAT": "basic-attention-token",
	"ZIL": "zilliqa", "ENJ": "enjincoin", "MANA": "decentraland", "SAND": "the-sandbox",
	"GALA": "gala", "CHZ": "chiliz", "FLOW": "flow", "AXS": "axie-infinity",
	"DOGE": "dogecoin", "SHIB": "shiba-inu",
}

// CoinGeckoID resolves a ticker symbol to the coingecko identifier.
func CoinGeckoID(symbol string) string {
	if id, ok := coingeckoIDs[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// CoinGecko fetches crypto prices from the coingecko simple-price
// endpoint. Prices are quoted in USD.
type CoinGecko struct {
	client  *Client
	baseURL string
}

var _ CryptoPricer = (*CoinGecko)(nil)

// NewCoinGecko creates a coingecko client. baseURL may be empty for the
// public API.
func NewCoinGecko(client *Client, baseURL string) *CoinGecko {
	if baseURL == "" {
		baseURL = coingeckoDefaultBaseURL
	}
	return &CoinGecko{client: client, baseURL: baseURL}
}

func (c *CoinGecko) Name() string { return "coingecko" }

func (c *CoinGecko) CryptoPrice(ctx context.Context, symbol string) (Quote, error) {
	id := CoinGeckoID(symbol)
	body, err := c.client.Get(ctx, c.Name(), fmt.Sprintf("%s/api/v3/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(id)), nil)
	if err != nil {
		return Quote{}, err
	}

	price := gjson.GetBytes(body, id+".usd")
	if !price.Exists() {
		return Quote{}, fmt.Errorf("coingecko: %s: %w", symbol, ErrNoQuote)
	}
	return Quote{Price: price.Float(), Currency: "USD", Source: c.Name()}, nil
}
