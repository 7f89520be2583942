package rpc

import (
	"net/http"

	"blockcoop/native/packages"
)

func (s *Server) handleGetPackage(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		ID uint64 `json:"id"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	pkg, err := s.node.GetPackage(params.ID)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, packageResult(pkg))
}

func (s *Server) handleListActivePackages(w http.ResponseWriter, req *RPCRequest) {
	ids, err := s.node.ActivePackageIDs()
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	result := make([]*PackageResult, 0, len(ids))
	for _, id := range ids {
		pkg, err := s.node.GetPackage(id)
		if err != nil {
			writeServerError(w, req.ID, err)
			return
		}
		result = append(result, packageResult(pkg))
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleNextPackageID(w http.ResponseWriter, req *RPCRequest) {
	id, err := s.node.NextPackageID()
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"nextPackageId": id})
}

func (s *Server) handlePurchase(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Buyer     string `json:"buyer"`
		PackageID uint64 `json:"packageId"`
		Amount    string `json:"amount"`
		Referrer  string `json:"referrer"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	buyer, err := parseAddress(params.Buyer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	referrer, err := parseOptionalAddress(params.Referrer)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	receipt, err := s.node.Purchase(buyer, params.PackageID, amount, referrer)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, purchaseResult(receipt))
}

func (s *Server) handleClaimVested(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Beneficiary string `json:"beneficiary"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	beneficiary, err := parseAddress(params.Beneficiary)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	paid, err := s.node.ClaimVested(beneficiary)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{"claimed": bigString(paid)})
}

func (s *Server) handleGetUserStats(w http.ResponseWriter, req *RPCRequest) {
	buyer, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	stats, err := s.node.UserStats(buyer)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, userStatsResult(stats))
}

func (s *Server) handleGetUserPurchases(w http.ResponseWriter, req *RPCRequest) {
	buyer, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	records, err := s.node.UserPurchases(buyer)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	result := make([]*PurchaseRecordResult, 0, len(records))
	for _, rec := range records {
		result = append(result, purchaseRecordResult(rec))
	}
	writeResult(w, req.ID, result)
}

func (s *Server) handleGetUserPackageIDs(w http.ResponseWriter, req *RPCRequest) {
	buyer, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	ids, err := s.node.UserPackageIDs(buyer)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, ids)
}

func (s *Server) handleGetVestingSummary(w http.ResponseWriter, req *RPCRequest) {
	beneficiary, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	summary, err := s.node.VestingSummary(beneficiary)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, vestingSummaryResult(summary))
}

func (s *Server) handleGetVestingGrants(w http.ResponseWriter, req *RPCRequest) {
	beneficiary, ok := s.decodeUser(w, req)
	if !ok {
		return
	}
	grants, err := s.node.VestingGrants(beneficiary)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	result := make([]*GrantResult, 0, len(grants))
	for _, grant := range grants {
		result = append(result, grantResult(grant))
	}
	writeResult(w, req.ID, result)
}

// decodeUser extracts the single address parameter the user query methods
// share.
func (s *Server) decodeUser(w http.ResponseWriter, req *RPCRequest) ([20]byte, bool) {
	var params struct {
		Address string `json:"address"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return [20]byte{}, false
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return [20]byte{}, false
	}
	return addr, true
}

func (s *Server) handleGetBalance(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	addr, err := parseAddress(params.Address)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	balance, err := s.node.Balance(addr, params.Symbol)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": params.Address,
		"symbol":  params.Symbol,
		"balance": bigString(balance),
	})
}

func (s *Server) handleGetMarketPrice(w http.ResponseWriter, req *RPCRequest) {
	price, hasLiquidity, err := s.node.MarketPrice()
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"price":        bigString(price),
		"hasLiquidity": hasLiquidity,
	})
}

func (s *Server) handleGetFeeBucket(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Key string `json:"key"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	bucket, found, err := s.node.FeeBucket(params.Key)
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	if !found {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, feeBucketResult(bucket))
}

func (s *Server) handleGetLiquidityParams(w http.ResponseWriter, req *RPCRequest) {
	params, err := s.node.LiquidityParams()
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, liquidityParamsResult(params))
}

func (s *Server) handleGetEvents(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Offset int `json:"offset"`
	}
	if len(req.Params) > 0 {
		if err := decodeParams(req, &params); err != nil {
			writeInvalidParams(w, req.ID, err)
			return
		}
	}
	writeResult(w, req.ID, s.node.Events(params.Offset))
}

func (s *Server) handleAddPackage(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller          string `json:"caller"`
		Name            string `json:"name"`
		EntryAmount     string `json:"entryAmount"`
		ExchangeRate    string `json:"exchangeRate"`
		VestBps         uint32 `json:"vestBps"`
		CliffSeconds    uint64 `json:"cliffSeconds"`
		DurationSeconds uint64 `json:"durationSeconds"`
		ReferralBps     uint32 `json:"referralBps"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	entry, err := parseAmount(params.EntryAmount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	rate, err := parseAmount(params.ExchangeRate)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	id, err := s.node.AddPackage(caller, &packages.Package{
		Name:            params.Name,
		EntryAmount:     entry,
		ExchangeRate:    rate,
		VestBps:         params.VestBps,
		CliffSeconds:    params.CliffSeconds,
		DurationSeconds: params.DurationSeconds,
		ReferralBps:     params.ReferralBps,
	})
	if err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]uint64{"id": id})
}

func (s *Server) handleSetPackageActive(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		ID     uint64 `json:"id"`
		Active bool   `json:"active"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SetPackageActive(caller, params.ID, params.Active); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetExchangeRate(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		ID     uint64 `json:"id"`
		Rate   string `json:"exchangeRate"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	rate, err := parseAmount(params.Rate)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SetExchangeRate(caller, params.ID, rate); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

// decodeCallerAddress extracts the caller/address pair shared by the
// treasury-style admin setters.
func (s *Server) decodeCallerAddress(w http.ResponseWriter, req *RPCRequest) (caller, target [20]byte, ok bool) {
	var params struct {
		Caller  string `json:"caller"`
		Address string `json:"address"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return caller, target, false
	}
	var err error
	if caller, err = parseAddress(params.Caller); err != nil {
		writeInvalidParams(w, req.ID, err)
		return caller, target, false
	}
	if target, err = parseAddress(params.Address); err != nil {
		writeInvalidParams(w, req.ID, err)
		return caller, target, false
	}
	return caller, target, true
}

func (s *Server) handleSetTreasury(w http.ResponseWriter, req *RPCRequest) {
	caller, treasury, ok := s.decodeCallerAddress(w, req)
	if !ok {
		return
	}
	if err := s.node.SetTreasury(caller, treasury); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetTreasuryBps(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		Bps    uint32 `json:"bps"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SetTreasuryBps(caller, params.Bps); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetFeeBucket(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller  string `json:"caller"`
		Key     string `json:"key"`
		RateBps uint32 `json:"rateBps"`
		Payee   string `json:"payee"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	payee, err := parseAddress(params.Payee)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SetFeeBucket(caller, params.Key, params.RateBps, payee); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetLiquidityTargetPrice(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		Price  string `json:"price"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	price, err := parseAmount(params.Price)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SetLiquidityTargetPrice(caller, price); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetLiquiditySlippage(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller string `json:"caller"`
		Bps    uint32 `json:"bps"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SetLiquiditySlippage(caller, params.Bps); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetLiquidityDeadline(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Caller  string `json:"caller"`
		Seconds uint64 `json:"seconds"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	caller, err := parseAddress(params.Caller)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.SetLiquidityDeadline(caller, params.Seconds); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetLiquidityTreasury(w http.ResponseWriter, req *RPCRequest) {
	caller, treasury, ok := s.decodeCallerAddress(w, req)
	if !ok {
		return
	}
	if err := s.node.SetLiquidityTreasury(caller, treasury); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleMintPayment(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	to, err := parseAddress(params.To)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	if err := s.node.MintPayment(to, amount); err != nil {
		writeServerError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePause(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Module string `json:"module"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	s.node.Pause(params.Module)
	writeResult(w, req.ID, true)
}

func (s *Server) handleResume(w http.ResponseWriter, req *RPCRequest) {
	var params struct {
		Module string `json:"module"`
	}
	if err := decodeParams(req, &params); err != nil {
		writeInvalidParams(w, req.ID, err)
		return
	}
	s.node.Resume(params.Module)
	writeResult(w, req.ID, true)
}
