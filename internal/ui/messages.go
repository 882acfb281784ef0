package ui

// User-facing status lines. The operator team reads both English and Vietnamese.
const (
	MsgLoginSuccess = "Login successful / Đăng nhập thành công"
	MsgLoginFailed  = "Login failed, check your credentials or disable 2FA / Đăng nhập thất bại, vui lòng kiểm tra thông tin hoặc tắt xác thực 2 bước"
	MsgLoginBusy    = "Another login is in progress / Đang có một phiên đăng nhập khác"
	MsgLoginQueued  = "Login job queued / Đã thêm đăng nhập vào hàng đợi"

	MsgScrapeQueued     = "Scrape job queued / Đã thêm vào hàng đợi"
	MsgScrapeQuota      = "Video API quota exceeded, try again later / Đã vượt hạn mức API, vui lòng thử lại sau"
	MsgScrapeRateLimit  = "Video API is rate limiting requests, try again later / API đang giới hạn tốc độ, vui lòng thử lại sau"
	MsgScrapeFailed     = "Scrape failed, try again later / Thu thập dữ liệu thất bại, vui lòng thử lại sau"
	MsgScrapeNoSession  = "No saved login session, run login first / Chưa có phiên đăng nhập, hãy đăng nhập trước"
	MsgScrapeSucceeded  = "Scrape finished / Hoàn tất thu thập dữ liệu"
	MsgInvalidScrapeJob = "Invalid scrape request / Yêu cầu không hợp lệ"
)
