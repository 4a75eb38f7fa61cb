package model

// 订单只能沿 pending → paid → confirmed → shipped → delivered 逐级前进，
// 非终态均可取消
var successor = map[string]string{
	StatusPending:   StatusPaid,
	StatusPaid:      StatusConfirmed,
	StatusConfirmed: StatusShipped,
	StatusShipped:   StatusDelivered,
}

// IsValidStatus 是否为已知状态
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusPaid, StatusConfirmed, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal 终态不再流转
func IsTerminal(s string) bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition from → to 是否合法
func CanTransition(from, to string) bool {
	if to == StatusCancelled {
		return IsValidStatus(from) && !IsTerminal(from)
	}
	next, ok := successor[from]
	return ok && next == to
}
