package exchange

import "github.com/ethereum/go-ethereum/common"

// Contracts holds the on-chain addresses the exchange layer touches.
type Contracts struct {
	Exchange        common.Address // CTF exchange, spender of collateral
	NegRiskExchange common.Address // negative-risk exchange variant
	USDC            common.Address // collateral token
	CTF             common.Address // conditional tokens (ERC-1155)
}

// PolygonContracts returns the mainnet (chain 137) deployment addresses.
func PolygonContracts() Contracts {
	return Contracts{
		Exchange:        common.HexToAddress("0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E"),
		NegRiskExchange: common.HexToAddress("0xC5d563A36AE78145C45a50134d48A1215220f80a"),
		USDC:            common.HexToAddress("0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"),
		CTF:             common.HexToAddress("0x4D97DCd97eC945f40cF65F87097ACe5EA0476045"),
	}
}

// ContractsFromConfig resolves configured address strings into Contracts.
// Any address left empty falls back to the Polygon mainnet deployment.
func ContractsFromConfig(exchangeAddr, negRiskAddr, usdcAddr, ctfAddr string) Contracts {
	c := PolygonContracts()
	if exchangeAddr != "" {
		c.Exchange = common.HexToAddress(exchangeAddr)
	}
	if negRiskAddr != "" {
		c.NegRiskExchange = common.HexToAddress(negRiskAddr)
	}
	if usdcAddr != "" {
		c.USDC = common.HexToAddress(usdcAddr)
	}
	if ctfAddr != "" {
		c.CTF = common.HexToAddress(ctfAddr)
	}
	return c
}

// spenders returns the operators that need collateral and CTF approvals.
func (c Contracts) spenders() []common.Address {
	return []common.Address{c.Exchange, c.NegRiskExchange}
}
