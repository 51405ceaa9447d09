package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"seckill/internal/auth"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Msg    string
	Err    error
}

type client struct {
	http    *http.Client
	base    string
	admin   string
	issuer  *auth.Issuer
	tokenMu sync.Mutex
	tokens  map[int64]string
}

func main() {
	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	voucherID := flag.Uint("voucher", 0, "voucher id; 0 creates a new voucher")
	stock := flag.Int64("stock", 1, "stock of the voucher created when -voucher=0")
	adminToken := flag.String("admin-token", "dev-admin-token", "admin token")
	jwtSecret := flag.String("jwt-secret", "dev-jwt-secret", "secret used to mint user tokens")

	// 超卖测试参数：200 个用户并发抢
	nUsers := flag.Int("users", 200, "distinct users")
	concurrency := flag.Int("c", 50, "max concurrency")
	wait := flag.Duration("wait", 10*time.Second, "how long to wait for the queue to drain")
	flag.Parse()

	c := &client{
		http:   &http.Client{Timeout: 5 * time.Second},
		base:   *baseURL,
		admin:  *adminToken,
		issuer: auth.NewIssuer(*jwtSecret, time.Hour),
		tokens: map[int64]string{},
	}

	id := *voucherID
	if id == 0 {
		created, err := c.createVoucher(*stock)
		if err != nil {
			fmt.Println("create voucher failed:", err)
			os.Exit(1)
		}
		id = created
		fmt.Printf("created voucher %d with stock %d\n", id, *stock)
	}

	// 1) 不超卖测试：不同 user 并发
	fmt.Printf("start oversell test: voucher=%d users=%d concurrency=%d\n", id, *nUsers, *concurrency)
	results := c.runBuy(id, *nUsers, *concurrency, func(i int) int64 { return int64(i + 1) })
	printSummary("oversell", results)

	left, err := c.getStock(id)
	if err != nil {
		fmt.Println("stock check err:", err)
	} else {
		fmt.Println("final redis stock:", left)
	}

	// 2) 一人一单：同一个 user 并发重复抢
	fmt.Println("\nstart duplicate test: same user (10001), 50 requests, concurrency 50")
	results2 := c.runBuy(id, 50, 50, func(int) int64 { return 10001 })
	printSummary("duplicate", results2)

	// 3) 等待异步落单完成
	deadline := time.Now().Add(*wait)
	for time.Now().Before(deadline) {
		length, pending, err := c.queueStats()
		if err != nil {
			fmt.Println("queue stats err:", err)
			break
		}
		if length == 0 && pending == 0 {
			fmt.Println("queue drained")
			break
		}
		time.Sleep(200 * time.Millisecond)
	}
}

func (c *client) token(userID int64) string {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	if t, ok := c.tokens[userID]; ok {
		return t
	}
	t, err := c.issuer.Mint(userID)
	if err != nil {
		panic(err)
	}
	c.tokens[userID] = t
	return t
}

func (c *client) runBuy(voucherID uint, total, concurrency int, userOf func(i int) int64) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = c.buyOnce(voucherID, userOf(idx))
		}(i)
	}

	wg.Wait()
	return results
}

func (c *client) buyOnce(voucherID uint, userID int64) Result {
	url := fmt.Sprintf("%s/api/seckill/vouchers/%d", c.base, voucherID)
	status, env, err := c.do(http.MethodPost, url, nil, map[string]string{
		"Authorization": "Bearer " + c.token(userID),
	})
	if err != nil {
		return Result{Err: err}
	}
	return Result{Status: status, Msg: env.Msg}
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// do 发送请求并解析统一响应结构。
func (c *client) do(method, url string, body any, headers map[string]string) (int, envelope, error) {
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return 0, envelope{}, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, envelope{}, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)

	var env envelope
	_ = json.Unmarshal(b, &env)
	return resp.StatusCode, env, nil
}

func (c *client) createVoucher(stock int64) (uint, error) {
	now := time.Now()
	status, env, err := c.do(http.MethodPost, c.base+"/api/vouchers", map[string]any{
		"title":        "loadtest voucher",
		"pay_value":    1,
		"actual_value": 100,
		"stock":        stock,
		"begin_time":   now.Add(-time.Minute).Format(time.RFC3339),
		"end_time":     now.Add(time.Hour).Format(time.RFC3339),
	}, map[string]string{"X-Admin-Token": c.admin})
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, fmt.Errorf("status=%d msg=%s", status, env.Msg)
	}
	var v struct {
		ID uint `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &v); err != nil {
		return 0, err
	}
	return v.ID, nil
}

// getStock 查询 Redis 中当前库存，用于压测后校验是否出现超卖。
func (c *client) getStock(voucherID uint) (int64, error) {
	status, env, err := c.do(http.MethodGet, fmt.Sprintf("%s/api/vouchers/%d/stock", c.base, voucherID), nil, nil)
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, fmt.Errorf("status=%d msg=%s", status, env.Msg)
	}
	var out struct {
		Stock int64 `json:"stock"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return 0, err
	}
	return out.Stock, nil
}

func (c *client) queueStats() (int64, int64, error) {
	status, env, err := c.do(http.MethodGet, c.base+"/api/seckill/queue", nil, map[string]string{"X-Admin-Token": c.admin})
	if err != nil {
		return 0, 0, err
	}
	if status >= 300 {
		return 0, 0, fmt.Errorf("status=%d msg=%s", status, env.Msg)
	}
	var out struct {
		Length  int64 `json:"length"`
		Pending int64 `json:"pending"`
	}
	if err := json.Unmarshal(env.Data, &out); err != nil {
		return 0, 0, err
	}
	return out.Length, out.Pending, nil
}

// printSummary 聚合输出不同状态码与提示的分布。
func printSummary(name string, results []Result) {
	count := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[fmt.Sprintf("%d %s", r.Status, r.Msg)]++
	}
	fmt.Printf("[%s] summary:\n", name)
	for k, n := range count {
		fmt.Printf("  %s -> %d\n", k, n)
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
}
